// Package urlcheck validates outbound source URLs before the fetcher touches
// them, blocking anything that would reach loopback, link-local, or private
// address space.
package urlcheck

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrScheme is returned for anything other than http or https.
	ErrScheme = errors.New("urlcheck: scheme must be http or https")
	// ErrBlockedHost is returned for loopback-style hostnames.
	ErrBlockedHost = errors.New("urlcheck: host is blocked")
	// ErrPrivateAddress is returned for IPs inside private or special ranges.
	ErrPrivateAddress = errors.New("urlcheck: address is private or reserved")
)

// blockedHosts are names that always resolve to the local machine.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"0.0.0.0":                  true,
	"[::]":                     true,
	"metadata.google.internal": true,
}

// blockedRanges are CIDR prefixes that outbound fetches must never hit.
var blockedRanges = func() []netip.Prefix {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"224.0.0.0/4",
		"255.255.255.255/32",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}()

// Checker validates URLs against the blocklists, with an optional allowlist
// of hosts that bypass the checks entirely.
type Checker struct {
	allowlist []string
}

// New creates a Checker. Allowlist entries match the host exactly or as a
// parent domain ("example.com" allows "api.example.com").
func New(allowlist []string) *Checker {
	normalized := make([]string, 0, len(allowlist))
	for _, h := range allowlist {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &Checker{allowlist: normalized}
}

// Validate parses raw and reports whether it is safe to fetch.
func (c *Checker) Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("urlcheck: parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedHost)
	}
	if c.allowed(host) {
		return nil
	}

	if blockedHosts[host] || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("%w: %q", ErrBlockedHost, host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Not an IP literal; hostname checks above are all we can do
		// without resolving.
		return nil
	}
	addr = addr.Unmap()
	for _, p := range blockedRanges {
		if p.Contains(addr) {
			return fmt.Errorf("%w: %s in %s", ErrPrivateAddress, addr, p)
		}
	}
	return nil
}

func (c *Checker) allowed(host string) bool {
	for _, a := range c.allowlist {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
