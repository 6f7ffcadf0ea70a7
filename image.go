package isp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Image 待烧录的镜像
type Image struct {
	Address uint32
	Data    []byte
}

/*
 * @Description: 读取镜像文件, .hex 按 Intel HEX 解析并使用文件中的地址, 其他按 bin 放在 base
 * @param path
 * @param base bin 文件的起始地址
 * @return *Image
 * @return error
 */
func LoadImage(path string, base uint32) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load image")
	}
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		img, err := ParseHex(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		return img, nil
	}
	if len(data) == 0 {
		return nil, errors.Errorf("load image: %s is empty", path)
	}
	return &Image{Address: base, Data: data}, nil
}

// ParseHex flattens every data segment of an Intel HEX stream into one image.
// Gaps between segments are filled with 0xFF, the erased flash value.
func ParseHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, errors.New("no data records")
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Address < segments[j].Address
	})

	start := segments[0].Address
	var end uint32
	for _, seg := range segments {
		if e := seg.Address + uint32(len(seg.Data)); e > end {
			end = e
		}
	}
	data := bytes.Repeat([]byte{0xFF}, int(end-start))
	for _, seg := range segments {
		copy(data[seg.Address-start:], seg.Data)
	}
	return &Image{Address: start, Data: data}, nil
}
