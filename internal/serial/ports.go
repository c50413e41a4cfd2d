package serial

import (
	"slices"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo holds details about a serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns available serial ports sorted by name.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var result []PortInfo
	for _, p := range ports {
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Filter selects candidate ports for auto-detection.
type Filter struct {
	// Exclude lists ports already used in this session.
	Exclude []string
	// SerialNumber, when set, must be contained in the port's serial
	// number.
	SerialNumber string
	// USBOnly skips ports that are not USB devices.
	USBOnly bool
}

// Candidates returns the ports of ports selected by f, in order.
func (f Filter) Candidates(ports []PortInfo) []PortInfo {
	var out []PortInfo
	for _, p := range ports {
		if slices.Contains(f.Exclude, p.Name) {
			continue
		}
		if f.USBOnly && !p.IsUSB {
			continue
		}
		if f.SerialNumber != "" && !strings.Contains(p.SerialNumber, f.SerialNumber) {
			continue
		}
		out = append(out, p)
	}
	return out
}
