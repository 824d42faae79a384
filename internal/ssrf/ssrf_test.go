package ssrf

import (
	"context"
	"errors"
	"net"
	"testing"
)

// staticLookup returns a fixed answer set for every hostname.
func staticLookup(ips ...string) LookupFunc {
	return func(ctx context.Context, host string) ([]net.IP, error) {
		var out []net.IP
		for _, s := range ips {
			out = append(out, net.ParseIP(s))
		}
		return out, nil
	}
}

func failingLookup(ctx context.Context, host string) ([]net.IP, error) {
	return nil, errors.New("no such host")
}

func TestValidateBlocks(t *testing.T) {
	v := NewValidator(WithLookup(staticLookup("93.184.216.34")))

	tests := []struct {
		name string
		url  string
	}{
		{"loopback literal", "http://127.0.0.1/hook"},
		{"loopback decimal", "http://2130706433/hook"},
		{"loopback hex", "http://0x7f000001/hook"},
		{"loopback octal", "http://017700000001/hook"},
		{"loopback short form", "http://127.1/hook"},
		{"rfc1918 ten", "http://10.0.0.5/hook"},
		{"rfc1918 one-seven-two", "http://172.16.0.1/hook"},
		{"rfc1918 one-nine-two", "http://192.168.1.1/hook"},
		{"carrier-grade nat", "http://100.64.0.1/hook"},
		{"current network", "http://0.0.0.0/hook"},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/"},
		{"link-local", "http://169.254.0.99/hook"},
		{"ipv6 loopback", "http://[::1]/hook"},
		{"ipv6 mapped loopback", "http://[::ffff:127.0.0.1]/hook"},
		{"ipv6 unique local", "http://[fd12:3456::1]/hook"},
		{"ipv6 link local", "http://[fe80::1]/hook"},
		{"localhost", "http://localhost:8080/hook"},
		{"localhost uppercase", "http://LOCALHOST/hook"},
		{"localhost trailing dot", "http://localhost./hook"},
		{"localhost subdomain", "http://foo.localhost/hook"},
		{"internal suffix", "http://db.prod.internal/hook"},
		{"local suffix", "http://printer.local/hook"},
		{"gcp metadata hostname", "http://metadata.google.internal/computeMetadata/"},
		{"bare metadata hostname", "http://metadata/latest/"},
		{"aws instance-data", "http://instance-data/latest/"},
		{"ftp scheme", "ftp://example.com/file"},
		{"file scheme", "file:///etc/passwd"},
		{"no host", "http:///path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.url)
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want blocked", tt.url)
			}
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Errorf("Validate(%q) error type = %T, want *BlockedError", tt.url, err)
			}
		})
	}
}

func TestValidateAllowsPublic(t *testing.T) {
	v := NewValidator(WithLookup(staticLookup("93.184.216.34")))

	tests := []string{
		"https://hooks.example.com/notify",
		"http://example.com:8443/hook",
		"https://8.8.8.8/hook",
	}

	for _, url := range tests {
		result, err := v.Validate(context.Background(), url)
		if err != nil {
			t.Errorf("Validate(%q) = %v, want nil", url, err)
			continue
		}
		if result.ResolvedIP == nil {
			t.Errorf("Validate(%q) returned nil ResolvedIP", url)
		}
	}
}

func TestValidateRejectsPrivateDNSAnswer(t *testing.T) {
	v := NewValidator(WithLookup(staticLookup("10.0.0.5")))

	_, err := v.Validate(context.Background(), "http://internal-api.example.com/hook")
	if err == nil {
		t.Fatal("expected private DNS answer to be blocked")
	}
}

func TestValidateRejectsMixedDNSAnswer(t *testing.T) {
	// One public and one private answer is the DNS-rebinding shape; the whole
	// host is blocked.
	v := NewValidator(WithLookup(staticLookup("93.184.216.34", "192.168.1.10")))

	_, err := v.Validate(context.Background(), "http://rebind.example.com/hook")
	if err == nil {
		t.Fatal("expected mixed public/private DNS answer to be blocked")
	}
}

func TestValidateFailsClosedOnResolutionError(t *testing.T) {
	v := NewValidator(WithLookup(failingLookup))

	_, err := v.Validate(context.Background(), "http://nxdomain.example.com/hook")
	if err == nil {
		t.Fatal("expected resolution failure to block")
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Errorf("error type = %T, want *BlockedError", err)
	}
}

func TestValidateFailsClosedOnEmptyAnswer(t *testing.T) {
	v := NewValidator(WithLookup(staticLookup()))

	if _, err := v.Validate(context.Background(), "http://empty.example.com/hook"); err == nil {
		t.Fatal("expected empty DNS answer to block")
	}
}

func TestCanonicalizeIPv4(t *testing.T) {
	tests := []struct {
		host string
		want string
		ok   bool
	}{
		{"127.0.0.1", "127.0.0.1", true},
		{"2130706433", "127.0.0.1", true},
		{"0x7f000001", "127.0.0.1", true},
		{"017700000001", "127.0.0.1", true},
		{"127.1", "127.0.0.1", true},
		{"127.0.1", "127.0.0.1", true},
		{"0xa9.0xfe.0xa9.0xfe", "169.254.169.254", true},
		{"192.168.1.1", "192.168.1.1", true},
		{"example.com", "", false},
		{"256.1.1.1", "", false},
		{"1.2.3.4.5", "", false},
		{"", "", false},
		{"1..2.3", "", false},
		{"4294967296", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			octets, ok := CanonicalizeIPv4(tt.host)
			if ok != tt.ok {
				t.Fatalf("CanonicalizeIPv4(%q) ok = %v, want %v", tt.host, ok, tt.ok)
			}
			if !ok {
				return
			}
			got := net.IPv4(octets[0], octets[1], octets[2], octets[3]).String()
			if got != tt.want {
				t.Errorf("CanonicalizeIPv4(%q) = %s, want %s", tt.host, got, tt.want)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.255.255.255", true},
		{"172.15.0.1", false},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"169.254.169.254", true},
		{"100.63.255.255", false},
		{"100.64.0.0", true},
		{"100.127.255.255", true},
		{"100.128.0.1", false},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"::1", true},
		{"::", true},
		{"::ffff:10.0.0.1", true},
		{"::ffff:8.8.8.8", false},
		{"fe80::1", true},
		{"fd00::1", true},
		{"fc00::1", true},
		{"fd00:ec2::254", true},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := IsPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
