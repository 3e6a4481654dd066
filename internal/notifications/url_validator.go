package notifications

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// blockedCIDRs contains private and reserved IP ranges refused when
// BlockPrivate is set.
var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
}

// parsedBlockedNets holds the pre-parsed blocked networks.
var parsedBlockedNets []*net.IPNet

func init() {
	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked CIDR %q: %v", cidr, err))
		}
		parsedBlockedNets = append(parsedBlockedNets, ipNet)
	}
}

// EndpointPolicy controls which webhook targets are acceptable.
type EndpointPolicy struct {
	RequireHTTPS bool
	BlockPrivate bool
}

// ValidateEndpoint checks that a webhook URL is well formed and, when the
// policy asks for it, that it does not resolve to a private address.
func ValidateEndpoint(urlStr string, policy EndpointPolicy) error {
	if strings.TrimSpace(urlStr) == "" {
		return fmt.Errorf("webhook URL is required")
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if policy.RequireHTTPS {
			return fmt.Errorf("webhook URL must use HTTPS")
		}
	default:
		return fmt.Errorf("webhook URL must use HTTP or HTTPS scheme")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("webhook URL must have a host")
	}
	if !policy.BlockPrivate {
		return nil
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("failed to resolve webhook host %q: %w", host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if isBlockedIP(ip) {
			return fmt.Errorf("webhook URL resolves to blocked address %s", ipStr)
		}
	}
	return nil
}

// isBlockedIP returns true if the IP falls within a private or reserved range.
func isBlockedIP(ip net.IP) bool {
	for _, blocked := range parsedBlockedNets {
		if blocked.Contains(ip) {
			return true
		}
	}
	return ip.IsUnspecified()
}

// ValidatingDialer returns a DialContext function that checks every resolved
// IP against the blocked ranges at connection time, so a hostname cannot
// rebind to a private address after validation.
func ValidatingDialer() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve host %q: %w", host, err)
		}

		var safeAddrs []string
		for _, ipAddr := range ips {
			if isBlockedIP(ipAddr.IP) {
				continue
			}
			safeAddrs = append(safeAddrs, net.JoinHostPort(ipAddr.IP.String(), port))
		}

		if len(safeAddrs) == 0 {
			return nil, fmt.Errorf("all resolved IPs for %q are blocked (private/reserved)", host)
		}
		return dialer.DialContext(ctx, network, safeAddrs[0])
	}
}
