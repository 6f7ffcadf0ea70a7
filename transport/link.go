// Package transport owns the byte-stream endpoint the bootloader clients talk over.
package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds every blocking read unless the caller picks another value.
const DefaultTimeout = 5 * time.Second

// Link 一个串行字节流端点
type Link interface {
	// Read 最多等待超时时间, 返回已收到的 0..n 个字节; 短读由调用方判定为协议错误
	Read(n int) ([]byte, error)

	// Write 写入全部字节
	Write(p []byte) error

	// Close 可重复调用
	Close() error
}

// Claimer is implemented by links that can be owned by exactly one client at a time.
type Claimer interface {
	Claim() error
	Release()
}

// ErrClaimed is returned when a second client tries to take an owned link.
var ErrClaimed = errors.New("link already owned by another client")

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("link closed")

// Error wraps a failure of the underlying byte stream.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ownership struct {
	owned atomic.Bool
}

func (o *ownership) Claim() error {
	if !o.owned.CompareAndSwap(false, true) {
		return ErrClaimed
	}
	return nil
}

func (o *ownership) Release() {
	o.owned.Store(false)
}
