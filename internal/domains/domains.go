// Package domains decomposes hostnames into their ancestor chain for
// independent reputation analysis.
package domains

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Normalize isolates the bare hostname from a URL or host:port string and
// lowercases it as stored on Domain rows. Userinfo, port and brackets are
// stripped so an IP literal like "10.0.0.1:8080" cannot masquerade as a
// dotted hostname.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	host := raw
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.ToLower(host)
}

// Validate rejects hostnames the decomposer cannot reason about: IP
// literals, empty labels (leading/trailing/doubled dots) and single-label
// names. The chain shrinks by one label per level, so a valid input
// guarantees termination.
func Validate(host string) error {
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("ip literal %q is not a domain", host)
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("hostname %q has no registrable parent", host)
	}
	for _, l := range labels {
		if l == "" {
			return fmt.Errorf("hostname %q contains an empty label", host)
		}
	}
	return nil
}

// Chain returns the ordered ancestor hostnames of host, most specific
// first, excluding host itself and excluding the bare TLD. The registrable
// root (e.g. "example.com") is the last element.
//
//	Chain("a.b.example.com") == ["b.example.com", "example.com"]
//	Chain("example.com")     == []
func Chain(host string) ([]string, error) {
	host = Normalize(host)
	if err := Validate(host); err != nil {
		return nil, err
	}
	labels := strings.Split(host, ".")
	chain := make([]string, 0, len(labels)-2)
	for i := 1; i < len(labels)-1; i++ {
		chain = append(chain, strings.Join(labels[i:], "."))
	}
	return chain, nil
}
