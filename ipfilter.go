package main

import "net"

// IPAllowed implements the IP access filter (spec.md §4.1) as a pure
// function of (ip, config) — grounded on the teacher's ipban.go/
// countryban.go CIDR-matching shape, but with no mutable state: the
// networks are parsed once at config load time (config.go) and this
// function only ever reads them.
func IPAllowed(ip net.IP, cfg *AccessConfig) bool {
	if !cfg.UseIPAccessControl {
		return true
	}

	allowed := matchesAny(ip, cfg.allowedNets)
	denied := matchesAny(ip, cfg.deniedNets)

	if cfg.OrderAllowDeny {
		// order_allow_deny=true: deny wins when both match (spec.md §9).
		if denied {
			return false
		}
		return allowed
	}

	// order_allow_deny=false: allow wins when both match.
	if allowed {
		return true
	}
	return !denied
}

func matchesAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
