package isp

type Interface interface {
	// 对码, 获取支持指令与芯片 ID
	Connect() (HandshakeStatus, error)

	// 获取芯片版本号
	GetVersion() (version float64, option1 uint8, option2 uint8, err error)

	// 读取存储器
	ReadMemory(addr uint32, length int) ([]byte, error)

	// 写入到某个地址数据
	WriteMemory(addr uint32, data []byte) error

	// 擦除全部或指定页
	EraseMemory(all bool, pages []byte) error

	// 双字节擦除全部
	ExtendedEraseAll() error

	// 使能写保护
	WriteProtect(sectors []byte) error

	// 解除写保护
	WriteUnprotect() error

	// 使能读保护
	ReadoutProtect() error

	// 解除读保护
	ReadoutUnprotect() error

	// 跳转执行
	Go(addr uint32) error

	// 分块写入镜像
	WriteImage(addr uint32, data []byte, progress ProgressFunc) (*Transfer, error)

	// 分块读取
	ReadImage(addr uint32, length int, progress ProgressFunc) ([]byte, *Transfer, error)

	// 擦除, 写入, 校验并运行
	Flash(image *Image, opts FlashOptions) (*Transfer, error)

	Close() error
}

var _ Interface = (*ISP)(nil)
