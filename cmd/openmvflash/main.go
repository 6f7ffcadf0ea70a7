// Command openmvflash writes firmware to an OpenMV camera over its USB debug port.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tocurd/go-stm32isp/internal/progress"
	"github.com/tocurd/go-stm32isp/openmv"
	"github.com/tocurd/go-stm32isp/transport"
)

var (
	portFlag     = flag.String("d", "", "serial device of the camera")
	fileFlag     = flag.String("f", "", "firmware image, raw .bin only")
	infoFlag     = flag.Bool("info", false, "print firmware version and board, then exit")
	attemptsFlag = flag.Int("attempts", 3, "bootloader attempts before giving up")
	pollFlag     = flag.Duration("poll", 100*time.Millisecond, "port polling interval")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if *portFlag == "" {
		ports, err := transport.ListPorts()
		if err == nil {
			for i, p := range ports {
				fmt.Fprintf(os.Stderr, "%d. %s\n", i, p)
			}
		}
		fmt.Fprintln(os.Stderr, "select the camera with -d")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx)
	stop()
	if err != nil {
		glog.Exitf("openmvflash: %v", err)
	}
}

func info(name string) error {
	port, err := transport.Open(name, openmv.DefaultBaud, transport.DefaultTimeout)
	if err != nil {
		return err
	}
	dev, err := openmv.New(port)
	if err != nil {
		port.Close()
		return err
	}
	defer dev.Close()

	version, err := dev.FirmwareVersion()
	if err != nil {
		return errors.Wrap(err, "firmware version")
	}
	arch, err := dev.Arch()
	if err != nil {
		return errors.Wrap(err, "arch")
	}
	fmt.Printf("firmware: %s\nboard: %s\n", version, arch)
	return nil
}

func run(ctx context.Context) error {
	if *infoFlag {
		return info(*portFlag)
	}
	if *fileFlag == "" {
		return errors.New("no firmware given, use -f")
	}
	firmware, err := openmv.LoadFirmware(*fileFlag)
	if err != nil {
		return err
	}

	r := &openmv.Reconnector{
		Port:         *portFlag,
		Attempts:     *attemptsFlag,
		PollInterval: *pollFlag,
		OnState: func(s openmv.State) {
			fmt.Fprintf(os.Stderr, "%s...\n", s)
		},
	}
	dev, err := r.Run(ctx)
	if err != nil {
		return err
	}
	defer dev.Close()

	bar := progress.New(os.Stderr)
	start := time.Now()
	if err := dev.Flash(firmware, bar.Report); err != nil {
		bar.Abort()
		return err
	}
	bar.Finish()
	fmt.Printf("flashed %d bytes in %.3fs\n", len(firmware), time.Since(start).Seconds())
	return nil
}
