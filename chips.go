package isp

import "fmt"

// Command 自举程序指令
type Command byte

const (
	CommandGet              Command = 0x00 // 获取当前自举程序版本及允许使用的命令
	CommandGetVersion       Command = 0x01 // 获取自举程序版本及 Flash 的读保护状态
	CommandGetID            Command = 0x02 // 获取芯片 ID
	CommandReadMemory       Command = 0x11 // 从应用程序指定的地址开始读取最多 256 个字节的存储器空间
	CommandGo               Command = 0x21 // 跳转到内部 Flash 或 SRAM 内的应用程序代码
	CommandWriteMemory      Command = 0x31 // 从应用程序指定的地址开始将最多 256 个字节的数据写入 RAM 或 Flash
	CommandErase            Command = 0x43 // 擦除一个到全部 Flash 页面
	CommandExtendedErase    Command = 0x44 // 使用双字节寻址模式擦除一个到全部 Flash 页面（仅用于 v3.0 usart 自举程序版本及以上版本）
	CommandWriteProtect     Command = 0x63 // 使能某些扇区的写保护
	CommandWriteUnProtect   Command = 0x73 // 禁止所有 Flash 扇区的写保护
	CommandReadoutProtect   Command = 0x82 // 使能读保护
	CommandReadoutUnprotect Command = 0x92 // 禁止读保护
)

var commandNames = map[Command]string{
	CommandGet:              "Get Command",
	CommandGetVersion:       "Get Version and Read Protection Status",
	CommandGetID:            "Get ID",
	CommandReadMemory:       "Read Memory",
	CommandGo:               "Go",
	CommandWriteMemory:      "Write Memory",
	CommandErase:            "Erase",
	CommandExtendedErase:    "Extended Erase",
	CommandWriteProtect:     "Write Protect",
	CommandWriteUnProtect:   "Write Unprotect",
	CommandReadoutProtect:   "Readout Protect",
	CommandReadoutUnprotect: "Readout Unprotect",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command 0x%02X", byte(c))
}

// Known reports whether the opcode is one this package has a name for.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// UnknownChip is the board name reported for identifiers missing from the catalog.
const UnknownChip = "Unknown"

var chips = map[uint32]string{
	0x410:   "STM32F10x Medium-density",
	0x411:   "STM32F2xxx",
	0x412:   "STM32F10x Low-density",
	0x413:   "STM32F40xxx/41xxx",
	0x414:   "STM32F10x High-density",
	0x416:   "STM32L1xxx6(8/B) Medium-density ultralow power line",
	0x419:   "STM3242xxx/43xxx",
	0x420:   "STM32F10x Medium-density value line",
	0x428:   "STM32F10x High-density value line",
	0x430:   "STM3210xx XL-density",
	0x444:   "STM32F03xx4/6",
	0x449:   "STM32F74xxx/75xxx",
	0x451:   "STM32F76xxx/77xxx",
	0x801:   "Wiznet W7500",
	0x11103: "BlueNRG",
}

// ChipName 芯片 ID 对应的型号, 未收录时返回 "Unknown"
func ChipName(id uint32) string {
	name, _ := LookupChip(id)
	return name
}

// LookupChip returns the board family and a ChipUnknown error for identifiers not in
// the catalog. The error is advisory; flashing does not depend on it.
func LookupChip(id uint32) (string, error) {
	if name, ok := chips[id]; ok {
		return name, nil
	}
	return UnknownChip, newError(ChipUnknown, "lookup chip", "id 0x%X", id)
}

// BaudRates 支持的标准波特率
var BaudRates = []int{460800, 256000, 230400, 128000, 115200, 76800, 57600, 38400, 19200, 14400, 9600}

// ValidBaudRate reports whether rate is one of BaudRates.
func ValidBaudRate(rate int) bool {
	for _, r := range BaudRates {
		if r == rate {
			return true
		}
	}
	return false
}
