package isp

import (
	"bytes"
)

type writeFrame struct {
	addr uint32
	data []byte
}

// simDevice 模拟 STM32 自举程序, 每次 Write 按当前状态解析一帧并把应答放入接收队列
type simDevice struct {
	commands []byte
	version  byte
	id       []byte

	mem    map[uint32]byte
	synced bool

	state   string
	command Command
	addr    uint32

	out     []byte
	written int
	frames  [][]byte

	writes    []writeFrame
	reads     []int
	erasedAll int
	extErased int
	wentTo    []uint32

	nackWriteAt int // 第 n 次写数据帧回 NACK, 0 表示不注入
	corrupt     bool
	closed      int
}

func newSim(commands ...byte) *simDevice {
	return &simDevice{
		commands: commands,
		version:  0x22,
		id:       []byte{0x04, 0x10},
		mem:      map[uint32]byte{},
		state:    "idle",
	}
}

func (s *simDevice) Read(n int) ([]byte, error) {
	k := n
	if len(s.out) < k {
		k = len(s.out)
	}
	buf := append([]byte(nil), s.out[:k]...)
	s.out = s.out[k:]
	return buf, nil
}

func (s *simDevice) Close() error {
	s.closed++
	return nil
}

func (s *simDevice) reply(b ...byte) {
	s.out = append(s.out, b...)
}

func (s *simDevice) offers(c Command) bool {
	return bytes.IndexByte(s.commands, byte(c)) >= 0 || c == CommandGet || c == CommandGetID
}

func (s *simDevice) Write(p []byte) error {
	s.written += len(p)
	s.frames = append(s.frames, append([]byte(nil), p...))

	switch s.state {
	case "idle":
		if len(p) == 1 && p[0] == INIT {
			if s.synced {
				s.reply(NACK)
			} else {
				s.synced = true
				s.reply(ACK)
			}
			return nil
		}
		if len(p) != 2 || p[0]^p[1] != 0xFF || !s.offers(Command(p[0])) {
			s.reply(NACK)
			return nil
		}
		s.command = Command(p[0])
		s.reply(ACK)
		s.onCommand()
	case "addr":
		if len(p) != 5 || XORFold(0, p) != 0 {
			s.state = "idle"
			s.reply(NACK)
			return nil
		}
		s.addr = uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
		switch s.command {
		case CommandGo:
			s.wentTo = append(s.wentTo, s.addr)
			s.synced = false
			s.state = "idle"
			return nil
		case CommandReadMemory:
			s.state = "readlen"
		case CommandWriteMemory:
			s.state = "data"
		}
		s.reply(ACK)
	case "readlen":
		s.state = "idle"
		if len(p) != 2 || p[0]^p[1] != 0xFF {
			s.reply(NACK)
			return nil
		}
		n := int(p[0]) + 1
		s.reads = append(s.reads, n)
		s.reply(ACK)
		for i := 0; i < n; i++ {
			s.reply(s.peek(s.addr + uint32(i)))
		}
	case "data":
		s.state = "idle"
		if len(p) < 3 || int(p[0])+3 != len(p) || XORFold(0, p) != 0 {
			s.reply(NACK)
			return nil
		}
		payload := p[1 : len(p)-1]
		if s.command == CommandWriteMemory {
			s.writes = append(s.writes, writeFrame{addr: s.addr, data: append([]byte(nil), payload...)})
			if s.nackWriteAt == len(s.writes) {
				s.reply(NACK)
				return nil
			}
			for i, b := range payload {
				if s.corrupt && i == 0 {
					b ^= 0x01
				}
				s.mem[s.addr+uint32(i)] = b
			}
		}
		s.reply(ACK)
		if s.command == CommandWriteProtect {
			s.synced = false
		}
	case "erase":
		s.state = "idle"
		if bytes.Equal(p, []byte{0xFF, 0x00}) {
			s.erasedAll++
			s.mem = map[uint32]byte{}
			s.reply(ACK)
			return nil
		}
		if len(p) < 3 || int(p[0])+3 != len(p) || XORFold(0, p) != 0 {
			s.reply(NACK)
			return nil
		}
		s.reply(ACK)
	case "exterase":
		s.state = "idle"
		if !bytes.Equal(p, []byte{0xFF, 0xFF, 0x00}) {
			s.reply(NACK)
			return nil
		}
		s.extErased++
		s.mem = map[uint32]byte{}
		s.reply(ACK)
	}
	return nil
}

func (s *simDevice) onCommand() {
	switch s.command {
	case CommandGet:
		s.reply(byte(len(s.commands)), s.version)
		s.reply(s.commands...)
		s.reply(ACK)
	case CommandGetVersion:
		s.reply(s.version, 0x00, 0x00, ACK)
	case CommandGetID:
		s.reply(byte(len(s.id) - 1))
		s.reply(s.id...)
		s.reply(ACK)
	case CommandReadMemory, CommandWriteMemory, CommandGo:
		s.state = "addr"
	case CommandErase:
		s.state = "erase"
	case CommandExtendedErase:
		s.state = "exterase"
	case CommandWriteProtect:
		s.state = "data"
	case CommandWriteUnProtect, CommandReadoutProtect, CommandReadoutUnprotect:
		s.reply(ACK)
		s.synced = false
	}
}

func (s *simDevice) peek(addr uint32) byte {
	if b, ok := s.mem[addr]; ok {
		return b
	}
	return 0xFF
}

// scriptLink 按顺序返回预置的应答字节
type scriptLink struct {
	timeouts int // 前 n 次读取返回空, 模拟超时
	replies  []byte
	written []byte
	closed  int
}

func (l *scriptLink) Read(n int) ([]byte, error) {
	if l.timeouts > 0 {
		l.timeouts--
		return nil, nil
	}
	k := min(n, len(l.replies))
	buf := append([]byte(nil), l.replies[:k]...)
	l.replies = l.replies[k:]
	return buf, nil
}

func (l *scriptLink) Write(p []byte) error {
	l.written = append(l.written, p...)
	return nil
}

func (l *scriptLink) Close() error {
	l.closed++
	return nil
}
