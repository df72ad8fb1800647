package capture

import (
	"errors"
	"sort"
	"strings"
)

// InterfaceInfo describes a capture candidate.
type InterfaceInfo struct {
	Name      string   `json:"name"`
	Index     int      `json:"index"`
	MAC       string   `json:"mac,omitempty"`
	MTU       int      `json:"mtu"`
	Up        bool     `json:"up"`
	Loopback  bool     `json:"loopback"`
	Addresses []string `json:"addresses,omitempty"`
}

// preferredNames are matched case-insensitively against interface names,
// in priority order.
var preferredNames = []string{"ethernet", "wi-fi", "eth", "en", "wl"}

// ErrNoInterface is returned when no usable capture interface exists.
var ErrNoInterface = errors.New("capture: no usable network interface found")

// ListInterfaces returns the host interfaces ordered by index.
func ListInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, err
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })
	return ifaces, nil
}

// SelectInterface picks the interface to capture from.
func SelectInterface() (string, error) {
	ifaces, err := ListInterfaces()
	if err != nil {
		return "", err
	}
	return pickInterface(ifaces)
}

// pickInterface prefers up, non-loopback interfaces whose name looks like
// a wired or wireless NIC, falling back to the first candidate.
func pickInterface(ifaces []InterfaceInfo) (string, error) {
	var candidates []InterfaceInfo
	for _, iface := range ifaces {
		if iface.Up && !iface.Loopback {
			candidates = append(candidates, iface)
		}
	}
	if len(candidates) == 0 {
		if len(ifaces) == 0 {
			return "", ErrNoInterface
		}
		return ifaces[0].Name, nil
	}

	for _, pref := range preferredNames {
		for _, iface := range candidates {
			if strings.HasPrefix(strings.ToLower(iface.Name), pref) ||
				(len(pref) > 3 && strings.Contains(strings.ToLower(iface.Name), pref)) {
				return iface.Name, nil
			}
		}
	}
	return candidates[0].Name, nil
}
