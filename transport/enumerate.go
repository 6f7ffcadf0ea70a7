package transport

import (
	"fmt"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial device visible on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s\tUSB %s:%s %s", p.Name, p.VID, p.PID, p.Product)
}

// Lister reports the serial devices currently present.
type Lister func() ([]PortInfo, error)

// ListPorts 枚举主机上的串口
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, &Error{Op: "enumerate", Err: err}
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return infos, nil
}

// PortPresent reports whether a device with exactly this name is listed.
func PortPresent(list Lister, name string) (bool, error) {
	if list == nil {
		list = ListPorts
	}
	ports, err := list()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}
