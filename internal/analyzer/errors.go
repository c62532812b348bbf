package analyzer

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData 数据不足：空序列、缺少必需字段、记录数不足或日期非递增
	ErrInsufficientData = errors.New("数据不足")
	// ErrInvalidConfig 配置非法：负权重、权重和为0、未知模块或未知配置项
	ErrInvalidConfig = errors.New("配置错误")
)

// InsufficientDataError 某个模块（Module 为空时表示编排器）因数据不足无法评分
type InsufficientDataError struct {
	Module string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%v: %s", ErrInsufficientData, e.Reason)
	}
	return fmt.Sprintf("%s %v: %s", e.Module, ErrInsufficientData, e.Reason)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// ConfigError 构造阶段发现的配置问题
type ConfigError struct {
	Module string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.Reason)
	}
	return fmt.Sprintf("%s %v: %s", e.Module, ErrInvalidConfig, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func insufficient(module, format string, args ...any) error {
	return &InsufficientDataError{Module: module, Reason: fmt.Sprintf(format, args...)}
}

func invalidConfig(module, format string, args ...any) error {
	return &ConfigError{Module: module, Reason: fmt.Sprintf(format, args...)}
}
