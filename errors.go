package isp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind 错误类别
type Kind int

const (
	// TransportError 串口打开/读/写失败
	TransportError Kind = iota + 1
	// ProtocolError 等待应答时收到意外字节, 超时或指令数量不符
	ProtocolError
	// UnsupportedCommand 指令不在自举程序声明的指令集中
	UnsupportedCommand
	// SizeLimitExceeded 数据超过自举程序 256 字节缓冲
	SizeLimitExceeded
	// ChipUnknown 芯片 ID 不在目录中, 不影响烧录
	ChipUnknown
)

func (k Kind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case ProtocolError:
		return "protocol error"
	case UnsupportedCommand:
		return "unsupported command"
	case SizeLimitExceeded:
		return "size limit exceeded"
	case ChipUnknown:
		return "chip unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NACKError 自举程序拒绝了指令
var NACKError = errors.New("NACK")

// NoReplyError 超时内没有收到应答字节
var NoReplyError = errors.New("no reply")

// Error is returned by every ISP operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := "isp " + e.Kind.String()
	if e.Op != "" {
		s += " in " + e.Op
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func newError(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func transportError(op string, err error) *Error {
	return &Error{Kind: TransportError, Op: op, Err: err}
}
