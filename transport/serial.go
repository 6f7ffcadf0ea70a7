package transport

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// Option 修改串口参数
type Option func(*serial.Mode)

// WithParity overrides the default even parity.
func WithParity(parity serial.Parity) Option {
	return func(m *serial.Mode) {
		m.Parity = parity
	}
}

// WithStopBits overrides the default single stop bit.
func WithStopBits(bits serial.StopBits) Option {
	return func(m *serial.Mode) {
		m.StopBits = bits
	}
}

// Port 串口端点
type Port struct {
	ownership

	path    string
	port    serial.Port
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

/*
 * @Description: 打开串口, 默认 8 数据位 偶校验 1 停止位
 * @param path 串口设备
 * @param baud 波特率
 * @param timeout 单次读取的最长等待
 * @return *Port
 * @return error
 */
func Open(path string, baud int, timeout time.Duration, opts ...Option) (*Port, error) {
	mode := &serial.Mode{
		BaudRate:          baud,
		DataBits:          8,
		StopBits:          serial.OneStopBit,
		Parity:            serial.EvenParity,
		InitialStatusBits: &serial.ModemOutputBits{RTS: false, DTR: false},
	}
	for _, opt := range opts {
		opt(mode)
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	return NewPort(path, port, timeout), nil
}

// NewPort wraps an already opened serial port.
func NewPort(path string, port serial.Port, timeout time.Duration) *Port {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Port{path: path, port: port, timeout: timeout}
}

// Path returns the device name the port was opened with.
func (p *Port) Path() string {
	return p.path
}

// Timeout returns the read deadline applied to every Read.
func (p *Port) Timeout() time.Duration {
	return p.timeout
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

/*
 * @Description: 读取 n 个字节, 超时后返回已收到的部分
 * @param n
 * @return []byte
 * @return error
 */
func (p *Port) Read(n int) ([]byte, error) {
	if p.isClosed() {
		return nil, &Error{Op: "read", Path: p.path, Err: ErrClosed}
	}
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(p.timeout)
	for got < n {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		if err := p.port.SetReadTimeout(remain); err != nil {
			return buf[:got], &Error{Op: "read", Path: p.path, Err: err}
		}
		k, err := p.port.Read(buf[got:])
		if err != nil {
			return buf[:got], &Error{Op: "read", Path: p.path, Err: err}
		}
		if k == 0 {
			break
		}
		got += k
	}
	return buf[:got], nil
}

func (p *Port) Write(data []byte) error {
	if p.isClosed() {
		return &Error{Op: "write", Path: p.path, Err: ErrClosed}
	}
	for len(data) > 0 {
		n, err := p.port.Write(data)
		if err != nil {
			return &Error{Op: "write", Path: p.path, Err: err}
		}
		data = data[n:]
	}
	return nil
}

/*
 * @Description: 清空接收缓冲, 握手前丢弃线路上的残留字节
 * @return error
 */
func (p *Port) Flush() error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return &Error{Op: "flush", Path: p.path, Err: err}
	}
	return nil
}

// Close releases the device. Calling it again returns the first result.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if err := p.port.Close(); err != nil {
			p.closeErr = &Error{Op: "close", Path: p.path, Err: err}
		}
	})
	return p.closeErr
}

/*
 * @Description: 通过 DTR/RTS 拉高 BOOT0 并复位, 进入系统存储器自举
 * @return error
 */
func (p *Port) EnterBootloader() error {
	steps := []struct {
		dtr, rts bool
		wait     time.Duration
	}{
		{false, false, 100 * time.Millisecond},
		{false, true, 100 * time.Millisecond},
		{true, false, 0},
		{true, true, 0},
	}
	for _, s := range steps {
		if err := p.setLines(s.dtr, s.rts); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}
	return nil
}

/*
 * @Description: 拉低 BOOT0 并复位, 芯片从主存储器启动
 * @return error
 */
func (p *Port) Reset() error {
	if err := p.setLines(false, true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.port.SetRTS(false); err != nil {
		return &Error{Op: "reset", Path: p.path, Err: err}
	}
	return nil
}

func (p *Port) setLines(dtr, rts bool) error {
	if err := p.port.SetDTR(dtr); err != nil {
		return &Error{Op: "set dtr", Path: p.path, Err: err}
	}
	if err := p.port.SetRTS(rts); err != nil {
		return &Error{Op: "set rts", Path: p.path, Err: err}
	}
	return nil
}
