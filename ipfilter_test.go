package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustNets(t *testing.T, ranges ...string) []*net.IPNet {
	t.Helper()
	nets, err := parseRanges(ranges)
	require.NoError(t, err)
	return nets
}

func TestIPAllowed_Disabled(t *testing.T) {
	cfg := &AccessConfig{UseIPAccessControl: false}
	require.True(t, IPAllowed(net.ParseIP("1.2.3.4"), cfg))
}

func TestIPAllowed_DenyWinsWhenOrdered(t *testing.T) {
	cfg := &AccessConfig{UseIPAccessControl: true, OrderAllowDeny: true}
	cfg.allowedNets = mustNets(t, "10.0.0.0/8")
	cfg.deniedNets = mustNets(t, "10.1.0.0/16")

	require.False(t, IPAllowed(net.ParseIP("10.1.2.3"), cfg))
	require.True(t, IPAllowed(net.ParseIP("10.2.2.3"), cfg))
}

func TestIPAllowed_AllowWinsWhenNotOrdered(t *testing.T) {
	cfg := &AccessConfig{UseIPAccessControl: true, OrderAllowDeny: false}
	cfg.allowedNets = mustNets(t, "10.1.0.0/16")
	cfg.deniedNets = mustNets(t, "10.0.0.0/8")

	require.True(t, IPAllowed(net.ParseIP("10.1.2.3"), cfg))
	require.False(t, IPAllowed(net.ParseIP("10.2.2.3"), cfg))
}

func TestShortFormToCIDR(t *testing.T) {
	cases := map[string]string{
		"10.1.":  "10.1.0.0/16",
		"10.":    "10.0.0.0/8",
		"10.1.2.": "10.1.2.0/24",
		"":       "0.0.0.0/0",
	}
	for in, want := range cases {
		require.Equal(t, want, shortFormToCIDR(in), "input %q", in)
	}
}

// Property: with order_allow_deny unset, any address matching an
// allowed range is always let through regardless of the denied set.
func TestIPAllowed_AllowPrecedenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		octet := rapid.IntRange(0, 255)
		ip := net.IPv4(byte(octet.Draw(t, "a")), byte(octet.Draw(t, "b")), byte(octet.Draw(t, "c")), byte(octet.Draw(t, "d")))

		cfg := &AccessConfig{UseIPAccessControl: true, OrderAllowDeny: false}
		var err error
		cfg.allowedNets, err = parseRanges([]string{ip.String() + "/32"})
		require.NoError(t, err)
		cfg.deniedNets, err = parseRanges([]string{ip.String() + "/32"})
		require.NoError(t, err)

		require.True(t, IPAllowed(ip, cfg))
	})
}
