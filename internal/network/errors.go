package network

import (
	"fmt"

	nerrors "netcfg/pkg/errors"
)

// 资源配置步骤名，用于日志和指标
const (
	StepValidate  = "validate"
	StepBridge    = "bridge"
	StepNamespace = "namespace"
	StepLinkPair  = "link-pair"
	StepHostJoin  = "host-join"
	StepGuestMove = "guest-move"
	StepAddress   = "address"
	StepGuestUp   = "guest-up"
)

// ConfigError 表示配置校验失败，Detail 是返回给调用方的描述
type ConfigError struct {
	Detail string
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Detail: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return e.Detail
}

// Is 让 errors.Is(err, ErrNetworkConfiguration) 成立
func (e *ConfigError) Is(target error) bool {
	return target == nerrors.ErrNetworkConfiguration
}

// StepError 表示某个资源配置步骤失败
type StepError struct {
	Network   string
	Container string
	Step      string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("network %s, container %s: step %s: %v", e.Network, e.Container, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrProvisioningStep) 成立
func (e *StepError) Is(target error) bool {
	return target == nerrors.ErrProvisioningStep
}
