package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/psniff/internal/core"
)

// libpcap interface flags
const (
	pcapIfLoopback = 0x00000001
	pcapIfUp       = 0x00000002
	pcapIfRunning  = 0x00000004
	pcapIfWireless = 0x00000008
)

// Device describes one capturable interface.
type Device struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Flags       []string `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// Up reports whether the device is administratively up.
func (d Device) Up() bool {
	return hasFlag(d.Flags, "up")
}

// Loopback reports whether the device is a loopback interface.
func (d Device) Loopback() bool {
	return hasFlag(d.Flags, "loopback")
}

// ListDevices enumerates devices known to libpcap.
func ListDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	devices := make([]Device, 0, len(ifs))
	for _, i := range ifs {
		devices = append(devices, toDevice(i))
	}
	return devices, nil
}

// DefaultInterface returns the first up, non-loopback device that has an address.
func DefaultInterface() (string, error) {
	devices, err := ListDevices()
	if err != nil {
		return "", err
	}
	if name := pickDefault(devices); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("%w: no usable device", core.ErrInterfaceNotFound)
}

func pickDefault(devices []Device) string {
	for _, d := range devices {
		if d.Up() && !d.Loopback() && len(d.Addresses) > 0 {
			return d.Name
		}
	}
	return ""
}

func lookupDevice(name string) error {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	for _, i := range ifs {
		if i.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, name)
}

func toDevice(i pcap.Interface) Device {
	d := Device{Name: i.Name, Description: i.Description, Flags: flagNames(i.Flags)}
	for _, a := range i.Addresses {
		if a.IP == nil {
			continue
		}
		if ones, bits := a.Netmask.Size(); bits > 0 {
			d.Addresses = append(d.Addresses, fmt.Sprintf("%s/%d", a.IP, ones))
		} else {
			d.Addresses = append(d.Addresses, a.IP.String())
		}
	}
	return d
}

func flagNames(flags uint32) []string {
	var names []string
	if flags&pcapIfUp != 0 {
		names = append(names, "up")
	}
	if flags&pcapIfRunning != 0 {
		names = append(names, "running")
	}
	if flags&pcapIfLoopback != 0 {
		names = append(names, "loopback")
	}
	if flags&pcapIfWireless != 0 {
		names = append(names, "wireless")
	}
	return names
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
