// Command stm32isp flashes and reads STM32 parts through the system memory bootloader.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	isp "github.com/tocurd/go-stm32isp"
	"github.com/tocurd/go-stm32isp/internal/progress"
	"github.com/tocurd/go-stm32isp/transport"
)

var (
	portFlag    = flag.String("d", "", "serial device name")
	inputFlag   = flag.String("i", "", "image to download (.bin or .hex)")
	outputFlag  = flag.String("o", "", "file to store the image read from flash")
	lengthFlag  = flag.Int("l", 0, "number of bytes to read from flash, used with -o")
	baudFlag    = flag.Int("b", 460800, "baud rate, one of "+baudList())
	infoFlag    = flag.Bool("p", true, "print board info")
	cmdListFlag = flag.Bool("c", false, "print supported command list")
	exeFlag     = flag.Bool("e", true, "start the application after download")
	addrFlag    = flag.Uint("a", uint(isp.DefaultAddress), "flash address for .bin images and reads")
	verifyFlag  = flag.Bool("verify", false, "read back and compare after download")
	timeoutFlag = flag.Duration("t", transport.DefaultTimeout, "reply timeout")
	bootFlag    = flag.Bool("boot", false, "drive BOOT0/NRST through DTR/RTS before the handshake")
	retryFlag   = flag.Int("retries", 0, "extra INIT bytes sent on line noise")
)

func baudList() string {
	rates := make([]string, len(isp.BaudRates))
	for i, r := range isp.BaudRates {
		rates[i] = fmt.Sprint(r)
	}
	return strings.Join(rates, ", ")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if !isp.ValidBaudRate(*baudFlag) {
		fmt.Fprintf(os.Stderr, "unsupported baud rate %d, choose one of %s\n", *baudFlag, baudList())
		os.Exit(2)
	}
	name, ok := selectPort(*portFlag)
	if !ok {
		glog.Flush()
		os.Exit(1)
	}
	if err := run(name); err != nil {
		glog.Exitf("stm32isp: %v", err)
	}
}

// selectPort 未指定时只接受唯一的串口; 指定时必须存在
func selectPort(name string) (string, bool) {
	ports, err := transport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list serial ports: %v\n", err)
		return "", false
	}
	if name == "" {
		switch len(ports) {
		case 0:
			fmt.Fprintln(os.Stderr, "Please connect your board using serial")
			return "", false
		case 1:
			return ports[0].Name, true
		}
		fmt.Fprintln(os.Stderr, "Several serial devices found, select one with -d:")
		for i, p := range ports {
			fmt.Fprintf(os.Stderr, "%d. %s\n", i, p)
		}
		return "", false
	}
	for _, p := range ports {
		if p.Name == name {
			return name, true
		}
	}
	fmt.Fprintf(os.Stderr, "Your input is incorrect: %s not found\n", name)
	return "", false
}

func run(name string) error {
	addr := uint32(*addrFlag)

	var image *isp.Image
	if *inputFlag != "" {
		img, err := isp.LoadImage(*inputFlag, addr)
		if err != nil {
			return err
		}
		image = img
	}
	if *outputFlag != "" && *lengthFlag <= 0 {
		return errors.New("please give the length to read with -l")
	}

	port, err := transport.Open(name, *baudFlag, *timeoutFlag)
	if err != nil {
		return err
	}
	if *bootFlag {
		if err := port.EnterBootloader(); err != nil {
			port.Close()
			return err
		}
	}
	if err := port.Flush(); err != nil {
		glog.Warningf("flush %s: %v", name, err)
	}

	board, err := isp.New(port, isp.WithHandshakeRetries(*retryFlag))
	if err != nil {
		port.Close()
		return err
	}
	defer board.Close()

	status, err := board.Connect()
	if err != nil {
		return errors.Wrap(err, "init device")
	}
	if status == isp.HandshakeResetRequired {
		fmt.Fprintln(os.Stderr, "Please reset board and run again")
		return nil
	}

	if *infoFlag {
		fmt.Printf("id: 0x%X board: %s\n", board.ChipID(), isp.ChipName(board.ChipID()))
		fmt.Printf("bootloader version: %s\n", board.Version())
	}
	if *cmdListFlag {
		fmt.Println("command list:")
		for _, c := range board.Commands() {
			fmt.Printf("0x%02X:\t%s\n", byte(c), c)
		}
	}

	bar := progress.New(os.Stderr)
	if *outputFlag != "" {
		data, tr, err := board.ReadImage(addr, *lengthFlag, bar.Report)
		if err != nil {
			bar.Abort()
			return err
		}
		bar.Finish()
		if err := os.WriteFile(*outputFlag, data, 0o644); err != nil {
			return errors.Wrap(err, "save image")
		}
		fmt.Printf("read %d bytes from 0x%08X in %.3fs\n", tr.Bytes, addr, tr.Elapsed().Seconds())
	}

	if image != nil {
		fmt.Println("writing image...")
		start := time.Now()
		_, err := board.Flash(image, isp.FlashOptions{
			Verify:   *verifyFlag,
			Go:       *exeFlag,
			Progress: bar.Report,
		})
		if err != nil {
			bar.Abort()
			return err
		}
		bar.Finish()
		fmt.Printf("The time of flash image: %.3fs\n", time.Since(start).Seconds())
		if *exeFlag {
			fmt.Printf("go: 0x%08X\n", image.Address)
		}
	}
	return nil
}
