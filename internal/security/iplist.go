// Package security implements the gateway's security filter: IP allow/deny
// lists, request size caps, WAF-based threat scanning, and per-IP violation
// tracking with automatic deny-listing.
package security

import (
	"net"
	"strconv"
	"strings"
)

// IPList is a parsed set of CIDR ranges (or bare IPs, stored as /32 or /128)
// used for both the allow and deny lists.
type IPList struct {
	nets []*net.IPNet
}

// ParseIPList parses a mix of bare IPs and CIDR ranges. An entry that parses
// as neither is skipped rather than failing the whole list.
func ParseIPList(entries []string) *IPList {
	l := &IPList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			if ip := net.ParseIP(e); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				e = e + "/" + strconv.Itoa(bits)
			}
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			continue
		}
		l.nets = append(l.nets, n)
	}
	return l
}

// Contains reports whether ip falls within any configured range.
func (l *IPList) Contains(ip net.IP) bool {
	if l == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Empty reports whether the list has no entries.
func (l *IPList) Empty() bool { return l == nil || len(l.nets) == 0 }
