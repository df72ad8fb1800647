//go:build linux

package capture

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

func listInterfaces() ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("capture: failed to list links: %w", err)
	}

	out := make([]InterfaceInfo, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		info := InterfaceInfo{
			Name:     attrs.Name,
			Index:    attrs.Index,
			MTU:      attrs.MTU,
			Up:       attrs.Flags&net.FlagUp != 0,
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		}
		if len(attrs.HardwareAddr) > 0 {
			info.MAC = attrs.HardwareAddr.String()
		}
		if addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL); err == nil {
			for _, a := range addrs {
				info.Addresses = append(info.Addresses, a.IPNet.String())
			}
		}
		out = append(out, info)
	}
	return out, nil
}
