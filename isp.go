// Package isp talks to the STM32 system memory bootloader over USART (AN3155).
package isp

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/tocurd/go-stm32isp/transport"
)

// 自举程序单次传输上限
const WriteBlockSize = 256

// DefaultAddress 主 Flash 起始地址
const DefaultAddress uint32 = 0x08000000

// State 会话状态
type State int

const (
	Disconnected State = iota
	Handshaking
	Ready
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HandshakeStatus 握手结果
type HandshakeStatus int

const (
	// HandshakeOK 自举程序已应答, 会话就绪
	HandshakeOK HandshakeStatus = iota
	// HandshakeResetRequired 自举程序已同步过 (回复 NACK), 需要复位芯片后重新握手
	HandshakeResetRequired
)

func (h HandshakeStatus) String() string {
	if h == HandshakeResetRequired {
		return "reset required"
	}
	return "ok"
}

type ISP struct {
	link   transport.Link
	config Config

	state     State
	commands  []Command
	supported map[Command]bool
	version   byte
	chipID    uint32

	busy atomic.Bool
}

/*
 * @Description: 创建会话, 独占 link 直到 Close
 * @param link 串口
 * @return *ISP
 * @return error
 */
func New(link transport.Link, opts ...Option) (*ISP, error) {
	if link == nil {
		return nil, newError(TransportError, "new", "nil link")
	}
	if c, ok := link.(transport.Claimer); ok {
		if err := c.Claim(); err != nil {
			return nil, transportError("new", err)
		}
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ISP{link: link, config: cfg}, nil
}

func (t *ISP) State() State {
	return t.state
}

// Commands returns the opcodes offered by the bootloader, in the order it listed them.
func (t *ISP) Commands() []Command {
	return append([]Command(nil), t.commands...)
}

func (t *ISP) Supports(command Command) bool {
	return t.supported[command]
}

// VersionByte returns the raw bootloader version byte, e.g. 0x31 for v3.1.
func (t *ISP) VersionByte() byte {
	return t.version
}

// Version 自举程序版本, 如 "3.1"
func (t *ISP) Version() string {
	return fmt.Sprintf("%d.%d", t.version>>4, t.version&0x0F)
}

// ChipID 芯片 ID, 大端拼接; 超过 4 字节的 ID 在连接时即报 ProtocolError
func (t *ISP) ChipID() uint32 {
	return t.chipID
}

// enter 串行化调用并检查状态; 同一会话的并发调用直接报错
func (t *ISP) enter(op string, want State) error {
	if !t.busy.CompareAndSwap(false, true) {
		return newError(TransportError, op, "session in use by another caller")
	}
	if t.state != want {
		t.busy.Store(false)
		return newError(ProtocolError, op, "session is %s, need %s", t.state, want)
	}
	return nil
}

func (t *ISP) leave() {
	t.busy.Store(false)
}

// fault 传输与协议错误使会话进入 Faulted, 不再恢复
func (t *ISP) fault(err *Error) error {
	if err.Kind == TransportError || err.Kind == ProtocolError {
		if t.state != Faulted {
			glog.Warningf("isp: session faulted: %v", err)
		}
		t.state = Faulted
	}
	return err
}

/*
 * @Description: 对码并读取指令集与芯片 ID
 * @return HandshakeStatus 收到 NACK 时返回 HandshakeResetRequired, 调用方复位芯片后重试
 * @return error
 */
func (t *ISP) Connect() (HandshakeStatus, error) {
	if err := t.enter("handshake", Disconnected); err != nil {
		return HandshakeOK, err
	}
	defer t.leave()

	t.state = Handshaking
	t.commands, t.supported, t.version, t.chipID = nil, nil, 0, 0

	var reply []byte
	for attempt := 0; attempt <= t.config.HandshakeRetries; attempt++ {
		if err := t.write("handshake", []byte{INIT}); err != nil {
			return HandshakeOK, err
		}
		buff, err := t.link.Read(1)
		if err != nil {
			return HandshakeOK, t.fault(transportError("handshake", err))
		}
		reply = buff
		if len(reply) == 0 {
			return HandshakeOK, t.fault(&Error{Kind: ProtocolError, Op: "handshake", Msg: "timeout", Err: NoReplyError})
		}
		if reply[0] == ACK {
			break
		}
		if reply[0] == NACK {
			glog.Infof("isp: bootloader already synchronised, reset the board and retry")
			t.state = Disconnected
			return HandshakeResetRequired, nil
		}
		glog.V(1).Infof("isp: handshake attempt %d got % X", attempt+1, reply)
	}
	if reply[0] != ACK {
		return HandshakeOK, t.fault(newError(ProtocolError, "handshake", "unexpected byte 0x%02X", reply[0]))
	}

	t.state = Ready
	if err := t.getCommand(); err != nil {
		return HandshakeOK, err
	}
	if err := t.getID(); err != nil {
		return HandshakeOK, err
	}
	name, err := LookupChip(t.chipID)
	if err != nil {
		glog.Warningf("isp: %v", err)
	}
	glog.Infof("isp: connected, bootloader v%s, chip 0x%03X (%s)", t.Version(), t.chipID, name)
	return HandshakeOK, nil
}

/*
 * @Description: 获取自举程序版本号及支持的指令, 每次连接只执行一次
 * @return error
 */
func (t *ISP) getCommand() error {
	if err := t.sendCommand(CommandGet); err != nil {
		return err
	}
	op := CommandGet.String()
	count, err := t.readByte(op)
	if err != nil {
		return err
	}
	version, err := t.readByte(op)
	if err != nil {
		return err
	}
	list, err := t.link.Read(int(count))
	if err != nil {
		return t.fault(transportError(op, err))
	}
	glog.V(2).Infof("isp %s < % X", op, list)
	if len(list) != int(count) {
		return t.fault(countMismatch(len(list), int(count)))
	}
	if err := t.waitACK(CommandGet); err != nil {
		// 设备少发一个指令时, 列表的最后一个字节其实是结尾的 ACK
		if IsKind(err, ProtocolError) && len(list) > 0 && list[len(list)-1] == ACK {
			return t.fault(countMismatch(len(list)-1, int(count)))
		}
		return err
	}

	t.version = version
	t.commands = make([]Command, 0, len(list))
	t.supported = make(map[Command]bool, len(list))
	for _, b := range list {
		t.commands = append(t.commands, Command(b))
		t.supported[Command(b)] = true
	}
	return nil
}

func countMismatch(got, want int) *Error {
	return newError(ProtocolError, CommandGet.String(), "command count mismatch: device announced %d, sent %d", want, got)
}

/*
 * @Description: 获取芯片 ID, 大端
 * @return error
 */
func (t *ISP) getID() error {
	op := CommandGetID.String()
	// 读取 ID 属于连接过程, 不受指令集限制
	if err := t.write(op, commandFrame(CommandGetID)); err != nil {
		return err
	}
	if err := t.waitACK(CommandGetID); err != nil {
		return err
	}
	m, err := t.readByte(op)
	if err != nil {
		return err
	}
	if int(m)+1 > 4 {
		return t.fault(newError(ProtocolError, op, "id of %d bytes does not fit 32 bits", int(m)+1))
	}
	pack, err := t.readN(op, int(m)+1)
	if err != nil {
		return err
	}
	var id uint32
	for _, b := range pack {
		id = id<<8 | uint32(b)
	}
	if err := t.waitACK(CommandGetID); err != nil {
		return err
	}
	t.chipID = id
	return nil
}

/*
 * @Description: 获取自举程序版本号
 * @return version
 * @return option1 禁止读保护次数
 * @return option2 接收读保护使能次数
 * @return err
 */
func (t *ISP) GetVersion() (version float64, option1 uint8, option2 uint8, err error) {
	if err = t.enter(CommandGetVersion.String(), Ready); err != nil {
		return -1, 0xFF, 0xFF, err
	}
	defer t.leave()

	if err = t.sendCommand(CommandGetVersion); err != nil {
		return -1, 0xFF, 0xFF, err
	}
	pack, err := t.readN(CommandGetVersion.String(), 3)
	if err != nil {
		return -1, 0xFF, 0xFF, err
	}
	if err = t.waitACK(CommandGetVersion); err != nil {
		return -1, 0xFF, 0xFF, err
	}
	return float64(t.bcd2Int(pack[0])) / 10.0, pack[1], pack[2], nil
}

/*
 * @Description: 从 RAM、Flash 和信息块中读取数据
 * @param addr 数据地址
 * @param length 读取长度 1..256
 * @return data 数据
 * @return err
 */
func (t *ISP) ReadMemory(addr uint32, length int) ([]byte, error) {
	op := CommandReadMemory.String()
	if err := checkSize(op, length); err != nil {
		return nil, err
	}
	if err := t.enter(op, Ready); err != nil {
		return nil, err
	}
	defer t.leave()
	return t.readMemory(addr, length)
}

func (t *ISP) readMemory(addr uint32, length int) ([]byte, error) {
	if err := t.sendCommand(CommandReadMemory); err != nil {
		return nil, err
	}
	if err := t.sendAddress(CommandReadMemory, addr); err != nil {
		return nil, err
	}
	n := byte(length - 1)
	if err := t.write(CommandReadMemory.String(), []byte{n, n ^ 0xFF}); err != nil {
		return nil, err
	}
	if err := t.waitACK(CommandReadMemory); err != nil {
		return nil, err
	}
	return t.readN(CommandReadMemory.String(), length)
}

/*
 * @Description: 将数据写入 RAM、Flash 或选项字节区域, 数据按 4 字节对齐补 0xFF
 * @param addr 写入地址
 * @param data 写入数据, 补齐后不超过 256 字节
 * @return error
 */
func (t *ISP) WriteMemory(addr uint32, data []byte) error {
	op := CommandWriteMemory.String()
	data = pad4(data)
	if err := checkSize(op, len(data)); err != nil {
		return err
	}
	if err := t.enter(op, Ready); err != nil {
		return err
	}
	defer t.leave()
	return t.writeMemory(addr, data)
}

func (t *ISP) writeMemory(addr uint32, data []byte) error {
	if err := t.sendCommand(CommandWriteMemory); err != nil {
		return err
	}
	if err := t.sendAddress(CommandWriteMemory, addr); err != nil {
		return err
	}
	return t.sendData(CommandWriteMemory, data)
}

/*
 * @Description: 擦除 Flash
 * @param all 全片擦除, 发送 0xFF 0x00
 * @param pages 选择擦除的页号, all 为 false 时使用
 * @return error
 */
func (t *ISP) EraseMemory(all bool, pages []byte) error {
	op := CommandErase.String()
	if !all {
		if err := checkSize(op, len(pages)); err != nil {
			return err
		}
	}
	if err := t.enter(op, Ready); err != nil {
		return err
	}
	defer t.leave()
	return t.eraseMemory(all, pages)
}

func (t *ISP) eraseMemory(all bool, pages []byte) error {
	if err := t.sendCommand(CommandErase); err != nil {
		return err
	}
	if !all {
		return t.sendData(CommandErase, pages)
	}
	if err := t.write(CommandErase.String(), []byte{0xFF, 0x00}); err != nil {
		return err
	}
	return t.waitACK(CommandErase)
}

/*
 * @Description: 双字节擦除全部（仅用于 v3.0 usart 自举程序版本及以上版本）
 * @return error
 */
func (t *ISP) ExtendedEraseAll() error {
	if err := t.enter(CommandExtendedErase.String(), Ready); err != nil {
		return err
	}
	defer t.leave()
	return t.extendedEraseAll()
}

func (t *ISP) extendedEraseAll() error {
	if err := t.sendCommand(CommandExtendedErase); err != nil {
		return err
	}
	if err := t.write(CommandExtendedErase.String(), []byte{0xFF, 0xFF, 0x00}); err != nil {
		return err
	}
	return t.waitACK(CommandExtendedErase)
}

/*
 * @Description: 使能写保护, 完成后芯片复位
 * @param sectors 扇区号
 * @return error
 */
func (t *ISP) WriteProtect(sectors []byte) error {
	op := CommandWriteProtect.String()
	if err := checkSize(op, len(sectors)); err != nil {
		return err
	}
	if err := t.enter(op, Ready); err != nil {
		return err
	}
	defer t.leave()

	if err := t.sendCommand(CommandWriteProtect); err != nil {
		return err
	}
	if err := t.sendData(CommandWriteProtect, sectors); err != nil {
		return err
	}
	t.deviceReset(CommandWriteProtect)
	return nil
}

// WriteUnprotect 解除所有扇区的写保护, 完成后芯片复位
func (t *ISP) WriteUnprotect() error {
	return t.commandWithReset(CommandWriteUnProtect)
}

// ReadoutProtect 使能读保护, 完成后芯片复位
func (t *ISP) ReadoutProtect() error {
	return t.commandWithReset(CommandReadoutProtect)
}

// ReadoutUnprotect 解除读保护, 芯片会擦除整片 Flash 后复位
func (t *ISP) ReadoutUnprotect() error {
	return t.commandWithReset(CommandReadoutUnprotect)
}

func (t *ISP) commandWithReset(command Command) error {
	if err := t.enter(command.String(), Ready); err != nil {
		return err
	}
	defer t.leave()

	if err := t.sendCommand(command); err != nil {
		return err
	}
	if err := t.waitACK(command); err != nil {
		return err
	}
	t.deviceReset(command)
	return nil
}

// deviceReset 选项字节修改后芯片自动复位, 需要重新握手
func (t *ISP) deviceReset(command Command) {
	glog.Infof("isp: %s done, device resets", command)
	t.state = Disconnected
	t.commands, t.supported = nil, nil
}

/*
 * @Description: 跳转到 addr 执行, 地址帧发出后不再等待应答
 * @param addr
 * @return error
 */
func (t *ISP) Go(addr uint32) error {
	if err := t.enter(CommandGo.String(), Ready); err != nil {
		return err
	}
	defer t.leave()
	return t.goAddr(addr)
}

func (t *ISP) goAddr(addr uint32) error {
	if err := t.sendCommand(CommandGo); err != nil {
		return err
	}
	if err := t.write(CommandGo.String(), addressFrame(addr)); err != nil {
		return err
	}
	glog.Infof("isp: go 0x%08X", addr)
	t.state = Disconnected
	t.commands, t.supported = nil, nil
	return nil
}

// Close 关闭串口, 可重复调用
func (t *ISP) Close() error {
	t.state = Disconnected
	if c, ok := t.link.(transport.Claimer); ok {
		c.Release()
	}
	return t.link.Close()
}
