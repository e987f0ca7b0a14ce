package topology

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"

	"github.com/tarancss/prvd/lib/types"
)

// default API ports when the connector api_url has none.
var defaultPorts = map[string]int{"http": 80, "https": 443}

// ConnectorMultiaddr derives "/ip4/<address>/tcp/<port>" from the connector api_url, resolving its hostname with
// resolver (madns.DefaultResolver when nil). It returns types.ErrConnectorUnresolved for a nil connector and
// types.ErrMultiaddrUnresolved when the api_url is missing or invalid or the hostname does not resolve to an IPv4
// address.
func ConnectorMultiaddr(ctx context.Context, resolver *madns.Resolver, c *types.Connector) (ma.Multiaddr, error) {
	if c == nil {
		return nil, types.ErrConnectorUnresolved
	}
	apiURL := c.APIURL()
	if apiURL == "" {
		return nil, fmt.Errorf("%w: connector %s has no api_url", types.ErrMultiaddrUnresolved, c.ID)
	}

	u, err := url.Parse(apiURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: invalid api_url %q", types.ErrMultiaddrUnresolved, apiURL)
	}

	port, ok := defaultPorts[u.Scheme]
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("%w: invalid port in api_url %q", types.ErrMultiaddrUnresolved, apiURL)
		}
	} else if !ok {
		return nil, fmt.Errorf("%w: no port in api_url %q", types.ErrMultiaddrUnresolved, apiURL)
	}

	proto := "dns4"
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		if ip.To4() == nil {
			return nil, fmt.Errorf("%w: %s is not an IPv4 address", types.ErrMultiaddrUnresolved, ip)
		}
		proto = "ip4"
	}

	addr, err := ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", proto, u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMultiaddrUnresolved, err)
	}
	if proto == "ip4" {
		return addr, nil
	}

	if resolver == nil {
		resolver = madns.DefaultResolver
	}
	addrs, err := resolver.Resolve(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", types.ErrMultiaddrUnresolved, u.Hostname(), err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no IPv4 address", types.ErrMultiaddrUnresolved, u.Hostname())
	}
	return addrs[0], nil
}
