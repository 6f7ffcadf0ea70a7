package isp

import (
	"fmt"

	"github.com/golang/glog"
)

const (
	INIT byte = 0x7F
	ACK  byte = 0x79
	NACK byte = 0x1F
)

// XORFold 以 seed 为初值对 data 逐字节异或
func XORFold(seed byte, data []byte) byte {
	result := seed
	for index := 0; index < len(data); index++ {
		result ^= data[index]
	}
	return result
}

func commandFrame(command Command) []byte {
	return []byte{byte(command), 0xFF ^ byte(command)}
}

func addressFrame(addr uint32) []byte {
	frame := []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	return append(frame, XORFold(0, frame))
}

func dataFrame(data []byte) []byte {
	length := byte(len(data) - 1)
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, length)
	frame = append(frame, data...)
	return append(frame, XORFold(length, data))
}

// pad4 补齐到 4 字节对齐, 填充 0xFF
func pad4(data []byte) []byte {
	remainder := len(data) % 4
	if remainder == 0 {
		return data
	}
	padded := make([]byte, len(data), len(data)+4-remainder)
	copy(padded, data)
	for index := remainder; index < 4; index++ {
		padded = append(padded, 0xFF)
	}
	return padded
}

func (t *ISP) bcd2Int(bcd byte) uint8 {
	return ((bcd / 0x10) * 10) + (bcd % 0x10)
}

func (t *ISP) write(op string, frame []byte) error {
	if glog.V(2) {
		glog.Infof("isp %s > % X", op, frame)
	}
	if err := t.link.Write(frame); err != nil {
		return t.fault(transportError(op, err))
	}
	return nil
}

/*
 * @Description: 读取 n 个字节, 不足 n 个视为协议错误
 * @param op 当前操作, 用于诊断
 * @param n
 * @return []byte
 * @return error
 */
func (t *ISP) readN(op string, n int) ([]byte, error) {
	buff, err := t.link.Read(n)
	if err != nil {
		return nil, t.fault(transportError(op, err))
	}
	if glog.V(2) {
		glog.Infof("isp %s < % X", op, buff)
	}
	if len(buff) != n {
		return buff, t.fault(&Error{Kind: ProtocolError, Op: op,
			Msg: shortRead(len(buff), n), Err: NoReplyError})
	}
	return buff, nil
}

func (t *ISP) readByte(op string) (byte, error) {
	buff, err := t.readN(op, 1)
	if err != nil {
		return 0, err
	}
	return buff[0], nil
}

/*
 * @Description: 等待确认帧, NACK 或其他字节都是协议错误
 * @param command 正在执行的指令
 * @return error
 */
func (t *ISP) waitACK(command Command) error {
	op := command.String()
	buff, err := t.link.Read(1)
	if err != nil {
		return t.fault(transportError(op, err))
	}
	if len(buff) == 0 {
		return t.fault(&Error{Kind: ProtocolError, Op: op, Msg: "waiting for ACK", Err: NoReplyError})
	}
	glog.V(2).Infof("isp %s < %02X", op, buff[0])
	switch buff[0] {
	case ACK:
		return nil
	case NACK:
		return t.fault(&Error{Kind: ProtocolError, Op: op, Err: NACKError})
	default:
		return t.fault(newError(ProtocolError, op, "unexpected byte 0x%02X waiting for ACK", buff[0]))
	}
}

/*
 * @Description: 发送指令并等待确认, 指令集已知时先检查是否支持
 * @param command
 * @return error
 */
func (t *ISP) sendCommand(command Command) error {
	if err := t.checkCommand(command); err != nil {
		return err
	}
	if err := t.write(command.String(), commandFrame(command)); err != nil {
		return err
	}
	return t.waitACK(command)
}

func (t *ISP) sendAddress(command Command, addr uint32) error {
	if err := t.write(command.String(), addressFrame(addr)); err != nil {
		return err
	}
	return t.waitACK(command)
}

func (t *ISP) sendData(command Command, data []byte) error {
	if err := checkSize(command.String(), len(data)); err != nil {
		return err
	}
	if err := t.write(command.String(), dataFrame(data)); err != nil {
		return err
	}
	return t.waitACK(command)
}

func (t *ISP) checkCommand(command Command) error {
	if t.supported != nil && !t.supported[command] {
		return newError(UnsupportedCommand, command.String(), "opcode 0x%02X not offered by bootloader", byte(command))
	}
	return nil
}

func checkSize(op string, n int) error {
	if n < 1 || n > WriteBlockSize {
		return newError(SizeLimitExceeded, op, "length %d outside 1..%d", n, WriteBlockSize)
	}
	return nil
}

func shortRead(got, want int) string {
	if got == 0 {
		return "timeout"
	}
	return fmt.Sprintf("short read: got %d of %d bytes", got, want)
}
