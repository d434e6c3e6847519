package internal

// privateAndLoopbackCIDRs are the RFC 1918 private ranges plus the
// IPv4/IPv6 loopback ranges and the IPv6 unique-local block, handed
// out as a ready-made default for configs that want to trust internal
// callers (e.g. an ip_filter allow list) without enumerating them by hand.
var privateAndLoopbackCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.1/8",
	"::1/128",
	"fd00::/8",
}

// PrivateRangesCIDR returns the private/loopback CIDR ranges usable as
// a configuration shortcut for trusted-network rules.
func PrivateRangesCIDR() []string {
	out := make([]string, len(privateAndLoopbackCIDRs))
	copy(out, privateAndLoopbackCIDRs)
	return out
}
