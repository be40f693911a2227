package gopherchat

import (
	"net/netip"
	"strconv"
	"strings"
)

// ValidateAddress parses an IPv4 or IPv6 literal. Host names and zoned
// addresses are rejected.
func ValidateAddress(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, newChatError(KindInvalidAddress, strconv.Quote(raw), err)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, newChatError(KindInvalidAddress, strconv.Quote(raw)+" has a zone", nil)
	}
	return addr.Unmap(), nil
}

// ValidatePort parses a decimal port in [1, 65535]
func ValidatePort(raw string) (uint16, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
	if err != nil {
		return 0, newChatError(KindInvalidPort, strconv.Quote(raw), err)
	}
	if port == 0 {
		return 0, newChatError(KindInvalidPort, "port must be between 1 and 65535", nil)
	}
	return uint16(port), nil
}
