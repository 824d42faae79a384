package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// blockedHostnames are always rejected regardless of what they resolve to.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// dangerousSuffixes mark hostnames that name internal/local resources.
var dangerousSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

// Result carries one resolved address on success for observability.
type Result struct {
	ResolvedIP net.IP
}

// LookupFunc resolves a hostname to its full answer set (A and AAAA).
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Validator checks candidate webhook URLs. The zero value is not usable;
// construct with NewValidator. Validators hold no mutable state and are safe
// for concurrent use.
type Validator struct {
	lookup        LookupFunc
	lookupTimeout time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithLookup overrides DNS resolution, used by tests and custom resolvers.
func WithLookup(fn LookupFunc) Option {
	return func(v *Validator) {
		v.lookup = fn
	}
}

// WithLookupTimeout bounds each DNS resolution.
func WithLookupTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.lookupTimeout = d
	}
}

// NewValidator creates a Validator with the system resolver.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		lookupTimeout: 5 * time.Second,
	}
	v.lookup = func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
		return ips, nil
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate rejects URLs whose network destination is private or internal.
//
// The guarantee is point-in-time only: a hostname may re-resolve elsewhere
// after validation. Callers treat later DNS changes as a residual risk.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, NewBlockedError(fmt.Sprintf("scheme %q is not allowed, only http and https", u.Scheme))
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil, NewBlockedError("URL has no host")
	}

	if blockedHostnames[host] {
		return nil, NewBlockedError(fmt.Sprintf("hostname %q is on the denylist", host))
	}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, NewBlockedError(fmt.Sprintf("hostname %q targets an internal domain", host))
		}
	}

	// Literal IPs, including decimal/octal/hex IPv4 encodings, are checked
	// without touching the resolver.
	if ip := parseLiteralIP(host); ip != nil {
		if ip.String() == metadataIPv4 {
			return nil, NewBlockedError("IP targets the cloud metadata endpoint")
		}
		if IsPrivateIP(ip) {
			return nil, NewBlockedError(fmt.Sprintf("IP %s is in a private or metadata range", ip))
		}
		return &Result{ResolvedIP: ip}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()

	ips, err := v.lookup(lookupCtx, host)
	if err != nil || len(ips) == 0 {
		// Fail closed: an unresolvable destination is treated as blocked,
		// not retried.
		return nil, NewBlockedError(fmt.Sprintf("hostname %q did not resolve", host))
	}

	// Any private address in the answer set blocks the whole host; a
	// multi-answer response mixing public and private addresses is the
	// classic DNS-rebinding shape.
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return nil, NewBlockedError(fmt.Sprintf("hostname %q resolves to private address %s", host, ip))
		}
	}

	return &Result{ResolvedIP: ips[0]}, nil
}

// parseLiteralIP parses any literal IP embedded in a host string, covering
// standard notations plus the alternate IPv4 encodings (decimal, octal, hex,
// short forms) that bypass naive checks.
func parseLiteralIP(host string) net.IP {
	if octets, ok := CanonicalizeIPv4(host); ok {
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	}
	return net.ParseIP(host)
}

func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}
