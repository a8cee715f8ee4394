package connpool

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Route identifies a connection-grouping key of the pool.
type Route struct {
	Scheme string
	Host   string
	Port   int
}

// String renders the route as scheme://host:port.
func (r Route) String() string {
	return r.Scheme + "://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// RouteOf derives the route of a request URL, filling in the default port of the scheme.
func RouteOf(u *url.URL) Route {
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil || port == 0 {
		port = defaultPort(scheme)
	}

	return Route{
		Scheme: scheme,
		Host:   strings.ToLower(u.Hostname()),
		Port:   port,
	}
}

// routeOfAddr derives a provisional route from a dial address. The scheme is
// unknown at dial time and is corrected once the connection is leased.
func routeOfAddr(addr string) Route {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Route{Scheme: "tcp", Host: addr}
	}
	port, _ := strconv.Atoi(portStr)
	return Route{Scheme: "tcp", Host: strings.ToLower(host), Port: port}
}

func defaultPort(scheme string) int {
	switch scheme {
	case "https":
		return 443
	default:
		return 80
	}
}
