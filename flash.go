package isp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Chunk 一次传输的数据块
type Chunk struct {
	Index   int
	Offset  int
	Address uint32
	Length  int
	Data    []byte
}

// planRegion 将 [base, base+length) 按 size 切分, 最后一块为余数
func planRegion(base uint32, length int, size int) []Chunk {
	if length <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (length+size-1)/size)
	for offset := 0; offset < length; offset += size {
		n := size
		if length-offset < size {
			n = length - offset
		}
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Offset:  offset,
			Address: base + uint32(offset),
			Length:  n,
		})
	}
	return chunks
}

/*
 * @Description: 按 size 切分数据, 块地址连续递增, 依次拼接即还原 data
 * @param data
 * @param base 起始地址
 * @param size 块大小
 * @return []Chunk
 */
func SplitChunks(data []byte, base uint32, size int) []Chunk {
	chunks := planRegion(base, len(data), size)
	for i := range chunks {
		chunks[i].Data = data[chunks[i].Offset : chunks[i].Offset+chunks[i].Length]
	}
	return chunks
}

type Phase string

const (
	PhaseErasing   Phase = "erasing"
	PhaseWriting   Phase = "writing"
	PhaseReading   Phase = "reading"
	PhaseVerifying Phase = "verifying"
)

// Progress is reported after every chunk.
type Progress struct {
	Phase      Phase
	Chunk      int
	Total      int
	Bytes      int
	TotalBytes int
	Elapsed    time.Duration
}

func (p Progress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 100
	}
	return float64(p.Bytes) / float64(p.TotalBytes) * 100.0
}

type ProgressFunc func(Progress)

// Transfer 传输统计
type Transfer struct {
	Bytes  int
	Chunks int
	Start  time.Time
	End    time.Time
}

func (t *Transfer) Elapsed() time.Duration {
	return t.End.Sub(t.Start)
}

// Throughput returns bytes per second.
func (t *Transfer) Throughput() float64 {
	secs := t.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(t.Bytes) / secs
}

/*
 * @Description: 分块写入, 每块之后报告进度; 中途失败立即返回, 已写入的内容不回滚
 * @param addr 起始地址
 * @param data 镜像
 * @param progress 可为 nil
 * @return *Transfer
 * @return error
 */
func (t *ISP) WriteImage(addr uint32, data []byte, progress ProgressFunc) (*Transfer, error) {
	if err := t.enter("write image", Ready); err != nil {
		return nil, err
	}
	defer t.leave()
	return t.writeImage(addr, data, progress)
}

func (t *ISP) writeImage(addr uint32, data []byte, progress ProgressFunc) (*Transfer, error) {
	chunks := SplitChunks(data, addr, t.config.ChunkSize)
	tr := &Transfer{Start: time.Now()}
	for _, chunk := range chunks {
		if err := t.writeMemory(chunk.Address, pad4(chunk.Data)); err != nil {
			tr.End = time.Now()
			return tr, errors.Wrapf(err, "write chunk %d/%d at 0x%08X", chunk.Index+1, len(chunks), chunk.Address)
		}
		tr.Bytes += chunk.Length
		tr.Chunks++
		glog.V(1).Infof("isp: wrote %d bytes at 0x%08X", chunk.Length, chunk.Address)
		report(progress, PhaseWriting, tr, len(chunks), len(data))
	}
	tr.End = time.Now()
	glog.Infof("isp: wrote %d bytes in %.3fs (%.0f B/s)", tr.Bytes, tr.Elapsed().Seconds(), tr.Throughput())
	return tr, nil
}

/*
 * @Description: 分块读取 length 字节, 结果与一次读取整段相同
 * @param addr 起始地址
 * @param length
 * @param progress 可为 nil
 * @return []byte
 * @return *Transfer
 * @return error
 */
func (t *ISP) ReadImage(addr uint32, length int, progress ProgressFunc) ([]byte, *Transfer, error) {
	if length < 0 {
		return nil, nil, newError(SizeLimitExceeded, "read image", "negative length %d", length)
	}
	if err := t.enter("read image", Ready); err != nil {
		return nil, nil, err
	}
	defer t.leave()
	return t.readImage(addr, length, PhaseReading, progress)
}

func (t *ISP) readImage(addr uint32, length int, phase Phase, progress ProgressFunc) ([]byte, *Transfer, error) {
	chunks := planRegion(addr, length, t.config.ChunkSize)
	buf := make([]byte, 0, length)
	tr := &Transfer{Start: time.Now()}
	for _, chunk := range chunks {
		data, err := t.readMemory(chunk.Address, chunk.Length)
		if err != nil {
			tr.End = time.Now()
			return buf, tr, errors.Wrapf(err, "read chunk %d/%d at 0x%08X", chunk.Index+1, len(chunks), chunk.Address)
		}
		buf = append(buf, data...)
		tr.Bytes += len(data)
		tr.Chunks++
		report(progress, phase, tr, len(chunks), length)
	}
	tr.End = time.Now()
	return buf, tr, nil
}

func report(progress ProgressFunc, phase Phase, tr *Transfer, total int, totalBytes int) {
	if progress == nil {
		return
	}
	progress(Progress{
		Phase:      phase,
		Chunk:      tr.Chunks,
		Total:      total,
		Bytes:      tr.Bytes,
		TotalBytes: totalBytes,
		Elapsed:    time.Since(tr.Start),
	})
}

// VerifyError 回读内容与写入不一致
type VerifyError struct {
	Address uint32
	Want    byte
	Got     byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed at 0x%08X: wrote 0x%02X, read 0x%02X", e.Address, e.Want, e.Got)
}

type FlashOptions struct {
	// Verify 写入后回读比对
	Verify bool
	// Go 完成后跳转到镜像起始地址运行
	Go bool
	// Progress 可为 nil
	Progress ProgressFunc
}

/*
 * @Description: 全片擦除后顺序写入镜像; 中途失败时芯片处于部分写入状态
 * @param image
 * @param opts
 * @return *Transfer 写入统计
 * @return error
 */
func (t *ISP) Flash(image *Image, opts FlashOptions) (*Transfer, error) {
	if image == nil || len(image.Data) == 0 {
		return nil, newError(SizeLimitExceeded, "flash", "empty image")
	}
	if err := t.enter("flash", Ready); err != nil {
		return nil, err
	}
	defer t.leave()

	glog.Infof("isp: erasing flash")
	if opts.Progress != nil {
		opts.Progress(Progress{Phase: PhaseErasing, TotalBytes: len(image.Data)})
	}
	if err := t.eraseAll(); err != nil {
		return nil, errors.Wrap(err, "erase")
	}

	tr, err := t.writeImage(image.Address, image.Data, opts.Progress)
	if err != nil {
		return tr, err
	}

	if opts.Verify {
		got, _, err := t.readImage(image.Address, len(image.Data), PhaseVerifying, opts.Progress)
		if err != nil {
			return tr, errors.Wrap(err, "verify")
		}
		if !bytes.Equal(got, image.Data) {
			for i := range got {
				if got[i] != image.Data[i] {
					return tr, &VerifyError{Address: image.Address + uint32(i), Want: image.Data[i], Got: got[i]}
				}
			}
		}
		glog.Infof("isp: verified %d bytes", len(got))
	}

	if opts.Go {
		if err := t.goAddr(image.Address); err != nil {
			return tr, errors.Wrap(err, "go")
		}
	}
	return tr, nil
}

// eraseAll v3.x 以上的自举程序只提供扩展擦除
func (t *ISP) eraseAll() error {
	if t.Supports(CommandExtendedErase) && !t.Supports(CommandErase) {
		return t.extendedEraseAll()
	}
	return t.eraseMemory(true, nil)
}
