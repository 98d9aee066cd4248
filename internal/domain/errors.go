package domain

import (
	"errors"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	ErrKindNetwork    ErrorKind = "network"    // 传输/超时失败，下一次轮询自动重试
	ErrKindValidation ErrorKind = "validation" // 客户端前置校验拒绝，未发起网络请求
	ErrKindConflict   ErrorKind = "conflict"   // 服务端拒绝变更（终态订单撤单、余额不足等）
	ErrKindNotFound   ErrorKind = "not_found"  // 资源不存在
)

// 常用哨兵错误
var (
	ErrOrderTerminal = errors.New("order already in terminal state")
	ErrNotFound      = errors.New("resource not found")
)

// Error 带类别的业务错误
//
// 本核心中没有致命错误：拉取类错误落到缓存条目的 LastError，
// 变更类错误通过 MutationState 暴露给调用方。
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // 底层错误（可选）
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewNetworkError 创建网络错误
func NewNetworkError(msg string, err error) *Error {
	return &Error{Kind: ErrKindNetwork, Message: msg, Err: err}
}

// NewValidationError 创建校验错误
func NewValidationError(msg string) *Error {
	return &Error{Kind: ErrKindValidation, Message: msg}
}

// NewConflictError 创建冲突错误
func NewConflictError(msg string, err error) *Error {
	return &Error{Kind: ErrKindConflict, Message: msg, Err: err}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(msg string) *Error {
	return &Error{Kind: ErrKindNotFound, Message: msg, Err: ErrNotFound}
}

// KindOf 提取错误类别；非 *Error 一律按网络错误处理
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindNetwork
}

// AsError 将任意 error 规整为 *Error（缓存 LastError 只存 *Error）
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewNetworkError("request failed", err)
}
