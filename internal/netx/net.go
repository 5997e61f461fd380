// Package netx contains address helpers for local-network enforcement and
// LAN address discovery.
package netx

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// DefaultLocalPrefixes are the ranges treated as "local" when nothing is
// configured: loopback, RFC1918 and link-local IPv4 plus IPv6 loopback, ULA and
// link-local.
var DefaultLocalPrefixes = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// ParsePrefixes parses CIDR strings. A bare address is taken as a single
// host prefix.
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			a, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("parse prefix %q: %w", c, err)
			}
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parse prefix %q: %w", c, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// MustPrefixes is ParsePrefixes for static input.
func MustPrefixes(cidrs []string) []netip.Prefix {
	p, err := ParsePrefixes(cidrs)
	if err != nil {
		panic(err)
	}
	return p
}

// PeerAddr extracts the IP from an http.Request.RemoteAddr style
// "host:port" string. IPv4-mapped IPv6 addresses are unmapped.
func PeerAddr(remoteAddr string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), nil
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse peer address %q: %w", remoteAddr, err)
	}
	return a.Unmap(), nil
}

// Contains reports whether addr falls inside any of prefixes.
func Contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivate reports whether addr is in one of DefaultLocalPrefixes.
func IsPrivate(addr netip.Addr) bool {
	return Contains(defaultPrefixes, addr)
}

var defaultPrefixes = MustPrefixes(DefaultLocalPrefixes)

var interfaceAddrs = net.InterfaceAddrs

// LANAddress returns the first private, non-loopback IPv4 address of this
// host. That is the address a phone on the same network can reach.
func LANAddress() (netip.Addr, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipn.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if IsPrivate(ip) {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no private IPv4 address found")
}
