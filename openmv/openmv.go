// Package openmv drives the OpenMV camera's USB debug channel and its flash bootloader.
//
// Frames are little-endian: debug commands are [0x30, cmd, uint32 length], bootloader
// commands are a bare uint32 magic optionally followed by a payload.
package openmv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	isp "github.com/tocurd/go-stm32isp"
	"github.com/tocurd/go-stm32isp/transport"
)

const (
	usbdbgCmd        byte = 48
	usbdbgFwVersion  byte = 0x80
	usbdbgArchStr    byte = 0x83
	usbdbgScriptExec byte = 0x05
	usbdbgScriptStop byte = 0x06
	usbdbgSysReset   byte = 0x0C
	usbdbgTxBufLen   byte = 0x8E
	usbdbgTxBuf      byte = 0x8F
)

const (
	BootStart uint32 = 0xABCD0001
	BootReset uint32 = 0xABCD0002
	BootErase uint32 = 0xABCD0004
	BootWrite uint32 = 0xABCD0008
	BootFlash uint32 = 0xABCD0010
)

// MaxPayload 一个 64 字节 USB 包去掉 4 字节命令字
const MaxPayload = 60

// DefaultBaud is ignored by the USB CDC device but required to open the port.
const DefaultBaud = 921600

type Device struct {
	link transport.Link
}

// New takes ownership of link.
func New(link transport.Link) (*Device, error) {
	if c, ok := link.(transport.Claimer); ok {
		if err := c.Claim(); err != nil {
			return nil, err
		}
	}
	return &Device{link: link}, nil
}

func (d *Device) Close() error {
	if c, ok := d.link.(transport.Claimer); ok {
		c.Release()
	}
	return d.link.Close()
}

func debugFrame(cmd byte, length uint32) []byte {
	frame := make([]byte, 6)
	frame[0] = usbdbgCmd
	frame[1] = cmd
	binary.LittleEndian.PutUint32(frame[2:], length)
	return frame
}

func magicFrame(magic uint32, payload ...uint32) []byte {
	frame := binary.LittleEndian.AppendUint32(nil, magic)
	for _, v := range payload {
		frame = binary.LittleEndian.AppendUint32(frame, v)
	}
	return frame
}

func (d *Device) send(op string, frame []byte) error {
	glog.V(2).Infof("openmv %s > % X", op, frame)
	if err := d.link.Write(frame); err != nil {
		return &isp.Error{Kind: isp.TransportError, Op: op, Err: err}
	}
	return nil
}

func (d *Device) recv(op string, n int) ([]byte, error) {
	buf, err := d.link.Read(n)
	if err != nil {
		return nil, &isp.Error{Kind: isp.TransportError, Op: op, Err: err}
	}
	glog.V(2).Infof("openmv %s < % X", op, buf)
	if len(buf) != n {
		return buf, &isp.Error{Kind: isp.ProtocolError, Op: op,
			Msg: fmt.Sprintf("short read: got %d of %d bytes", len(buf), n), Err: isp.NoReplyError}
	}
	return buf, nil
}

func (d *Device) query(op string, cmd byte, n int) ([]byte, error) {
	if err := d.send(op, debugFrame(cmd, uint32(n))); err != nil {
		return nil, err
	}
	return d.recv(op, n)
}

// FirmwareVersion 固件版本, 如 "3.5.1"
func (d *Device) FirmwareVersion() (string, error) {
	buf, err := d.query("firmware version", usbdbgFwVersion, 12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d",
		binary.LittleEndian.Uint32(buf[0:]),
		binary.LittleEndian.Uint32(buf[4:]),
		binary.LittleEndian.Uint32(buf[8:])), nil
}

// Arch 板卡信息字符串
func (d *Device) Arch() (string, error) {
	buf, err := d.query("arch", usbdbgArchStr, 64)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// ExecScript 发送并运行 MicroPython 脚本
func (d *Device) ExecScript(src string) error {
	frame := append(debugFrame(usbdbgScriptExec, uint32(len(src))), src...)
	return d.send("exec script", frame)
}

func (d *Device) StopScript() error {
	return d.send("stop script", debugFrame(usbdbgScriptStop, 0))
}

// ReadOutput 读取脚本的串口输出缓冲
func (d *Device) ReadOutput() ([]byte, error) {
	buf, err := d.query("tx buf len", usbdbgTxBufLen, 4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 {
		return nil, nil
	}
	return d.query("tx buf", usbdbgTxBuf, int(n))
}

// Reset 系统复位, 设备会从主机上消失后重新枚举
func (d *Device) Reset() error {
	return d.send("reset", debugFrame(usbdbgSysReset, 0))
}

/*
 * @Description: 请求进入 bootloader, 设备应回复 BootReset
 * @return bool 收到期望的回复
 * @return error 传输错误
 */
func (d *Device) StartBootloader() (bool, error) {
	if err := d.send("bootloader start", magicFrame(BootStart)); err != nil {
		return false, err
	}
	buf, err := d.recv("bootloader start", 4)
	if err != nil {
		if isp.IsKind(err, isp.ProtocolError) {
			glog.V(1).Infof("openmv: no bootloader reply: %v", err)
			return false, nil
		}
		return false, err
	}
	if magic := binary.LittleEndian.Uint32(buf); magic != BootReset {
		glog.Warningf("openmv: unexpected boot magic 0x%08X", magic)
		return false, nil
	}
	return true, nil
}

// BootloaderReset 退出 bootloader 运行固件
func (d *Device) BootloaderReset() error {
	return d.send("bootloader reset", magicFrame(BootReset))
}

// Layout 可擦写的扇区范围
type Layout struct {
	Reserved    uint32
	FirstSector uint32
	LastSector  uint32
}

func (d *Device) FlashLayout() (Layout, error) {
	if err := d.send("flash layout", magicFrame(BootFlash)); err != nil {
		return Layout{}, err
	}
	buf, err := d.recv("flash layout", 12)
	if err != nil {
		return Layout{}, err
	}
	return Layout{
		Reserved:    binary.LittleEndian.Uint32(buf[0:]),
		FirstSector: binary.LittleEndian.Uint32(buf[4:]),
		LastSector:  binary.LittleEndian.Uint32(buf[8:]),
	}, nil
}

func (d *Device) EraseSector(sector uint32) error {
	return d.send("erase", magicFrame(BootErase, sector))
}

func (d *Device) WriteBlock(data []byte) error {
	if len(data) > MaxPayload {
		return &isp.Error{Kind: isp.SizeLimitExceeded, Op: "write",
			Msg: fmt.Sprintf("block of %d bytes exceeds %d", len(data), MaxPayload)}
	}
	return d.send("write", append(magicFrame(BootWrite), data...))
}

// LoadFirmware 读取 .bin 固件; 写入从第一个应用扇区开始, 不使用文件中的地址, 因此拒绝 .hex
func LoadFirmware(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		return nil, errors.Errorf("load firmware: %s: only raw .bin images are supported", path)
	}
	image, err := isp.LoadImage(path, 0)
	if err != nil {
		return nil, err
	}
	return image.Data, nil
}

/*
 * @Description: 擦除全部应用扇区, 按 60 字节写入镜像, 然后复位运行
 * @param image 固件
 * @param progress 可为 nil
 * @return error
 */
func (d *Device) Flash(image []byte, progress isp.ProgressFunc) error {
	layout, err := d.FlashLayout()
	if err != nil {
		return errors.Wrap(err, "read flash layout")
	}
	if layout.LastSector < layout.FirstSector {
		return errors.Errorf("bad flash layout %+v", layout)
	}
	sectors := int(layout.LastSector-layout.FirstSector) + 1
	glog.Infof("openmv: erasing sectors %d..%d", layout.FirstSector, layout.LastSector)
	for i := 0; i < sectors; i++ {
		if err := d.EraseSector(layout.FirstSector + uint32(i)); err != nil {
			return errors.Wrapf(err, "erase sector %d", layout.FirstSector+uint32(i))
		}
		if progress != nil {
			progress(isp.Progress{Phase: isp.PhaseErasing, Chunk: i + 1, Total: sectors,
				Bytes: i + 1, TotalBytes: sectors})
		}
	}

	chunks := isp.SplitChunks(image, 0, MaxPayload)
	written := 0
	for _, chunk := range chunks {
		if err := d.WriteBlock(chunk.Data); err != nil {
			return errors.Wrapf(err, "write block %d/%d", chunk.Index+1, len(chunks))
		}
		written += len(chunk.Data)
		if progress != nil {
			progress(isp.Progress{Phase: isp.PhaseWriting, Chunk: chunk.Index + 1, Total: len(chunks),
				Bytes: written, TotalBytes: len(image)})
		}
	}
	glog.Infof("openmv: wrote %d bytes in %d blocks", written, len(chunks))
	return d.BootloaderReset()
}
