package state

import (
	"fmt"

	"netcfg/internal/network"
)

// Document 是配置存储的持久化形式。
// 不包含运行状态、命名空间句柄等派生信息。
type Document struct {
	Networks   map[string]network.Document `json:"networks"`
	Containers map[string]ContainerDocument `json:"containers"`
}

// ContainerDocument 是容器的持久化形式
type ContainerDocument struct {
	Name     string                    `json:"name"`
	Networks map[string]network.Config `json:"networks"`
}

// NewDocument 返回空文档
func NewDocument() Document {
	return Document{
		Networks:   make(map[string]network.Document),
		Containers: make(map[string]ContainerDocument),
	}
}

// Serialize 生成当前配置的完整文档
func (s *Store) Serialize() Document {
	doc := NewDocument()

	for name, net := range s.networks {
		doc.Networks[name] = net.Document()
	}

	for name, c := range s.containers {
		cd := ContainerDocument{
			Name:     c.Name(),
			Networks: make(map[string]network.Config, len(c.networks)),
		}
		for netName, att := range c.networks {
			cfg := att.config
			if cfg == nil {
				cfg = network.Config{}
			}
			cd.Networks[netName] = cfg
		}
		doc.Containers[name] = cd
	}

	return doc
}

// Deserialize 用文档整体替换存储内容（不是合并）。
// 重建网络和容器之间的双向关系；容器引用文档中不存在的网络时返回错误，
// 出错时存储保持原状。
func (s *Store) Deserialize(doc Document) error {
	networks := make(map[string]network.Network, len(doc.Networks))
	for key, nd := range doc.Networks {
		if nd.Name == "" {
			nd.Name = key
		}
		if nd.Name != key {
			return fmt.Errorf("deserialization of network '%s' failed: name mismatch '%s'", key, nd.Name)
		}

		net, err := s.factory.FromDocument(nd)
		if err != nil {
			return fmt.Errorf("deserialization of network '%s' failed: %w", key, err)
		}
		networks[key] = net
	}

	containers := make(map[string]*Container, len(doc.Containers))
	for key, cd := range doc.Containers {
		if cd.Name == "" {
			cd.Name = key
		}
		if cd.Name != key {
			return fmt.Errorf("deserialization of container '%s' failed: name mismatch '%s'", key, cd.Name)
		}

		c := newContainer(key, s.runtime)
		for netName, cfg := range cd.Networks {
			net, ok := networks[netName]
			if !ok {
				return fmt.Errorf("deserialization of container '%s' failed: network '%s' does not exist", key, netName)
			}
			if err := net.Validate(cfg); err != nil {
				return fmt.Errorf("deserialization of container '%s' failed: network '%s': %w", key, netName, err)
			}
			c.link(net, cfg)
		}
		containers[key] = c
	}

	s.networks = networks
	s.containers = containers
	return nil
}
