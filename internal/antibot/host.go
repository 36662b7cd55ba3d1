package antibot

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/wardstone/wardstone/internal/breaker"
	"github.com/wardstone/wardstone/internal/config"
)

type checkResult uint8

const (
	checkPass checkResult = iota
	checkFail
	checkSkip
)

// hostResolver wraps the DNS client behind a circuit breaker so a dead
// resolver degrades the host check instead of stalling logins.
type hostResolver struct {
	client *dns.Client
	brk    *breaker.Breaker
}

func newHostResolver() *hostResolver {
	return &hostResolver{
		client: new(dns.Client),
		brk:    breaker.New(breaker.ResolverConfig()),
	}
}

// resolves reports whether host has at least one address record at the
// given resolver.
func (r *hostResolver) resolves(host, server string, timeout time.Duration) (bool, error) {
	return breaker.Do(r.brk, func() (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			m := new(dns.Msg)
			m.SetQuestion(dns.Fqdn(host), qtype)
			in, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				return false, fmt.Errorf("query %s: %w", host, err)
			}
			if in.Rcode == dns.RcodeSuccess && len(in.Answer) > 0 {
				return true, nil
			}
		}
		return false, nil
	})
}

// checkHost validates the virtual host the client claimed to connect
// through. Private sources are skipped so LAN and health-check traffic
// never trips the check.
func (x *Coordinator) checkHost(c *config.AntiBotConfig, clientIP, virtualHost string) (checkResult, string) {
	if virtualHost == "" {
		return checkSkip, "no virtual host"
	}
	if isPrivateIP(clientIP) {
		return checkSkip, "private source address"
	}

	host := cleanVirtualHost(virtualHost)
	if net.ParseIP(host) != nil {
		if c.AllowDirectIPConnections {
			return checkPass, ""
		}
		if ipExcluded(clientIP, c.ExcludedIPs) {
			return checkPass, ""
		}
		return checkFail, "direct ip connection"
	}

	if len(c.AllowedDomains) > 0 && !domainAllowed(host, c.AllowedDomains) {
		return checkFail, fmt.Sprintf("host %s outside allowed domains", host)
	}

	if c.ResolveHostnames {
		timeout := time.Duration(c.ResolveTimeoutMs) * time.Millisecond
		ok, err := x.resolver.resolves(host, c.ResolverAddress, timeout)
		if err != nil {
			// Breaker open or lookup error: cannot judge, let it pass.
			x.log.Debug().Err(err).Str("host", host).Msg("host check degraded")
			return checkSkip, "resolver unavailable"
		}
		if !ok {
			return checkFail, fmt.Sprintf("host %s does not resolve", host)
		}
	}

	return checkPass, ""
}

// cleanVirtualHost strips the port, a trailing dot, and the NUL-suffixed
// markers modded clients append to the handshake host.
func cleanVirtualHost(virtualHost string) string {
	host := virtualHost
	if i := strings.IndexByte(host, 0); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

func isPrivateIP(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// ipExcluded checks addr against a list of CIDR ranges and literal IPs.
func ipExcluded(addr string, excluded []string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, ex := range excluded {
		if _, cidr, err := net.ParseCIDR(ex); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if other := net.ParseIP(ex); other != nil && other.Equal(ip) {
			return true
		}
	}
	return false
}

func domainAllowed(host string, domains []string) bool {
	h := strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSuffix(d, "."))
		if d == "" {
			continue
		}
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}
