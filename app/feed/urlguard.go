package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedURL is returned for URLs that must never be fetched.
var ErrBlockedURL = errors.New("url blocked")

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
	"100.100.100.200":          true,
	"fd00:ec2::254":            true,
}

var cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")

// URLGuard validates fetch targets before and during connection.
type URLGuard struct {
	allowPrivate bool
	resolver     *net.Resolver
}

func NewURLGuard(allowPrivate bool) *URLGuard {
	return &URLGuard{
		allowPrivate: allowPrivate,
		resolver:     net.DefaultResolver,
	}
}

// Validate parses raw and checks scheme, host and every resolved address.
func (g *URLGuard) Validate(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrBlockedURL, err)
	}

	if err := g.ValidateURL(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

func (g *URLGuard) ValidateURL(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedURL, u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}

	if blockedHosts[host] || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: host %q not allowed", ErrBlockedURL, host)
	}

	if g.allowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return g.checkAddr(addr)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addrs, err := g.resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("failed to resolve %s: no addresses", host)
	}

	for _, addr := range addrs {
		if err := g.checkAddr(addr); err != nil {
			return err
		}
	}

	return nil
}

// DialControl re-checks the address actually being connected to, which
// defeats DNS rebinding between validation and dial.
func (g *URLGuard) DialControl(network, address string, _ syscall.RawConn) error {
	if g.allowPrivate {
		return nil
	}

	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: invalid dial address %q", ErrBlockedURL, address)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: dial address %q is not an ip", ErrBlockedURL, address)
	}

	return g.checkAddr(addr)
}

func (g *URLGuard) checkAddr(addr netip.Addr) error {
	if g.allowPrivate {
		return nil
	}
	if IsBlockedAddr(addr) {
		return fmt.Errorf("%w: address %s is not public", ErrBlockedURL, addr)
	}
	return nil
}

// IsBlockedAddr reports whether addr is loopback, private, link-local,
// unique-local, unspecified, carrier-grade NAT, multicast or a metadata
// endpoint.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	if blockedHosts[addr.String()] {
		return true
	}

	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		cgnatPrefix.Contains(addr)
}
