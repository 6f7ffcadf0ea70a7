package openmv

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tocurd/go-stm32isp/transport"
)

// State 重连状态机的状态
type State int

const (
	WaitingForDevice State = iota
	Connecting
	Handshaking
	Resetting
	WaitingForDetach
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case WaitingForDevice:
		return "waiting for device"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Resetting:
		return "resetting"
	case WaitingForDetach:
		return "waiting for detach"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dialer opens the named port.
type Dialer func(name string) (transport.Link, error)

// Reconnector brings a device into its bootloader. When the device does not answer
// the start magic it is reset, and the reconnector waits for the port to disappear
// and come back before trying again.
type Reconnector struct {
	Port string
	Dial Dialer
	List transport.Lister

	// Attempts 握手次数上限
	Attempts int
	// Polls 每次等待端口出现或消失的轮询次数上限
	Polls        int
	PollInterval time.Duration

	OnState func(State)

	state State
}

func (r *Reconnector) State() State {
	return r.state
}

func (r *Reconnector) set(s State) {
	if r.state == s {
		return
	}
	r.state = s
	glog.V(1).Infof("openmv: %s", s)
	if r.OnState != nil {
		r.OnState(s)
	}
}

func (r *Reconnector) defaults() {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Polls <= 0 {
		r.Polls = 100
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 100 * time.Millisecond
	}
	if r.List == nil {
		r.List = transport.ListPorts
	}
	if r.Dial == nil {
		r.Dial = func(name string) (transport.Link, error) {
			port, err := transport.Open(name, DefaultBaud, 300*time.Millisecond)
			if err != nil {
				return nil, err
			}
			return port, nil
		}
	}
}

// waitPort 轮询直到端口存在状态等于 present
func (r *Reconnector) waitPort(ctx context.Context, present bool) error {
	for i := 0; i < r.Polls; i++ {
		ok, err := transport.PortPresent(r.List, r.Port)
		if err != nil {
			return err
		}
		if ok == present {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.PollInterval):
		}
	}
	if present {
		return errors.Errorf("%s did not appear after %d polls", r.Port, r.Polls)
	}
	return errors.Errorf("%s did not detach after %d polls", r.Port, r.Polls)
}

/*
 * @Description: 等待设备出现并进入 bootloader, 失败时复位设备重试
 * @param ctx 取消轮询
 * @return *Device 处于 bootloader 的设备, 调用方负责 Close
 * @return error
 */
func (r *Reconnector) Run(ctx context.Context) (*Device, error) {
	r.defaults()
	r.state = -1

	for attempt := 1; attempt <= r.Attempts; attempt++ {
		r.set(WaitingForDevice)
		if err := r.waitPort(ctx, true); err != nil {
			r.set(Failed)
			return nil, errors.Wrap(err, "wait for device")
		}

		r.set(Connecting)
		link, err := r.Dial(r.Port)
		if err != nil {
			r.set(Failed)
			return nil, errors.Wrapf(err, "open %s", r.Port)
		}
		dev, err := New(link)
		if err != nil {
			link.Close()
			r.set(Failed)
			return nil, err
		}

		r.set(Handshaking)
		ok, err := dev.StartBootloader()
		if err != nil {
			dev.Close()
			r.set(Failed)
			return nil, errors.Wrap(err, "start bootloader")
		}
		if ok {
			r.set(Ready)
			return dev, nil
		}

		r.set(Resetting)
		glog.Infof("openmv: reboot to bootloader (attempt %d/%d)", attempt, r.Attempts)
		resetErr := dev.Reset()
		dev.Close()
		if resetErr != nil {
			r.set(Failed)
			return nil, errors.Wrap(resetErr, "reset")
		}

		r.set(WaitingForDetach)
		if err := r.waitPort(ctx, false); err != nil {
			r.set(Failed)
			return nil, errors.Wrap(err, "wait for reset")
		}
	}
	r.set(Failed)
	return nil, errors.Errorf("bootloader did not start after %d attempts", r.Attempts)
}
