package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"

	"netcfg/internal/network"
	nerrors "netcfg/pkg/errors"
	"netcfg/pkg/fileutil"
)

// Persister 读写配置文档。
// 写入采用先写临时文件再 rename，失败时旧文件保持不变。
type Persister struct {
	path string
	last digest.Digest
}

// NewPersister 创建指向 path 的 Persister
func NewPersister(path string) *Persister {
	return &Persister{path: path}
}

// Path 返回配置文件路径
func (p *Persister) Path() string {
	return p.path
}

// LastDigest 返回最近一次读写的文件内容摘要
func (p *Persister) LastDigest() digest.Digest {
	return p.last
}

// Save 写入文档，父目录按需创建
func (p *Persister) Save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", nerrors.ErrPersistence, err)
	}
	data = append(data, '\n')

	if err := fileutil.EnsureParentDir(p.path, 0755); err != nil {
		return fmt.Errorf("%w: %v", nerrors.ErrPersistence, err)
	}

	if err := fileutil.AtomicWriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", nerrors.ErrPersistence, err)
	}

	p.last = digest.FromBytes(data)
	return nil
}

// Load 读取文档。文件不存在时返回 false。
func (p *Persister) Load() (Document, bool, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), false, nil
		}
		return Document{}, false, fmt.Errorf("read config: %w", err)
	}

	doc, err := DecodeDocument(data)
	if err != nil {
		return Document{}, false, fmt.Errorf("parse config %s: %w", p.path, err)
	}

	p.last = digest.FromBytes(data)
	return doc, true, nil
}

// Changed 返回 data 是否与最近一次读写的内容不同
func (p *Persister) Changed(data []byte) bool {
	return digest.FromBytes(data) != p.last
}

// Observe 记录 data 为最近一次读取的内容，之后相同内容的 Changed 返回 false
func (p *Persister) Observe(data []byte) {
	p.last = digest.FromBytes(data)
}

// DecodeDocument 解析 JSON 文档，缺失的映射按空处理
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}

	if doc.Networks == nil {
		doc.Networks = make(map[string]network.Document)
	}
	if doc.Containers == nil {
		doc.Containers = make(map[string]ContainerDocument)
	}
	return doc, nil
}
