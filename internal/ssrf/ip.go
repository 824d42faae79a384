package ssrf

import (
	"net"
	"strconv"
	"strings"
)

// metadataIPv4 is the de-facto cloud metadata endpoint shared by AWS, GCP,
// Azure and others. Link-local checks already cover it, but it stays listed
// explicitly so the rejection reason names it.
const metadataIPv4 = "169.254.169.254"

// privateIPv6Prefixes identify loopback-adjacent, link-local, site-local and
// unique-local IPv6 space.
var privateIPv6Prefixes = []string{"fe80:", "fec0:", "fc", "fd"}

// CanonicalizeIPv4 normalizes any IPv4 literal the inet_aton grammar accepts
// into four octets: dotted-quad, decimal ("2130706433"), octal
// ("017700000001"), hex ("0x7f000001"), and short/mixed forms ("127.1").
// Returns false if the host string is not an IPv4 literal at all.
func CanonicalizeIPv4(host string) ([4]byte, bool) {
	var out [4]byte

	parts := strings.Split(host, ".")
	if len(parts) < 1 || len(parts) > 4 {
		return out, false
	}

	values := make([]uint64, len(parts))
	for i, part := range parts {
		if part == "" {
			return out, false
		}
		// ParseUint with base 0 follows the classic grammar: 0x prefix is
		// hex, leading zero is octal, otherwise decimal.
		v, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return out, false
		}
		values[i] = v
	}

	// All but the last part are single octets; the last part covers the
	// remaining bytes (inet_aton short forms).
	for i := 0; i < len(values)-1; i++ {
		if values[i] > 0xff {
			return out, false
		}
		out[i] = byte(values[i])
	}

	last := values[len(values)-1]
	remaining := 4 - (len(values) - 1)
	var limit uint64 = 1 << (8 * remaining)
	if last >= limit {
		return out, false
	}
	for i := 0; i < remaining; i++ {
		shift := uint(8 * (remaining - 1 - i))
		out[len(values)-1+i] = byte(last >> shift)
	}

	return out, true
}

// IsPrivateIPv4 reports whether four octets fall in a private or reserved
// range:
//   - 0.0.0.0/8 current network
//   - 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16 RFC1918
//   - 127.0.0.0/8 loopback
//   - 169.254.0.0/16 link-local (includes the metadata endpoint)
//   - 100.64.0.0/10 carrier-grade NAT
func IsPrivateIPv4(octets [4]byte) bool {
	o1, o2 := octets[0], octets[1]

	if o1 == 0 {
		return true
	}
	if o1 == 10 {
		return true
	}
	if o1 == 127 {
		return true
	}
	if o1 == 169 && o2 == 254 {
		return true
	}
	if o1 == 172 && o2 >= 16 && o2 <= 31 {
		return true
	}
	if o1 == 192 && o2 == 168 {
		return true
	}
	if o1 == 100 && o2 >= 64 && o2 <= 127 {
		return true
	}

	return false
}

// IsPrivateIP reports whether a parsed IP is private, loopback, link-local,
// unspecified, or a cloud-metadata address. IPv4-mapped IPv6 addresses are
// checked as their embedded IPv4.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if v4 := ip.To4(); v4 != nil {
		return IsPrivateIPv4([4]byte{v4[0], v4[1], v4[2], v4[3]})
	}

	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	lower := strings.ToLower(ip.String())
	for _, prefix := range privateIPv6Prefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	// EC2 IPv6 metadata endpoint
	if lower == "fd00:ec2::254" {
		return true
	}

	return false
}
