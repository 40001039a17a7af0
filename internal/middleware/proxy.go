package middleware

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies makes c.RealIP() honour X-Forwarded-For only for hops inside
// the given CIDRs. Login rate limiting and the IP stored on security events
// both read c.RealIP(), so behind a reverse proxy every client would otherwise
// share the proxy's bucket. Entries that fail to parse are returned and
// skipped.
func TrustedProxies(e *echo.Echo, cidrs []string) []string {
	opts, invalid := trustOptions(cidrs)
	e.IPExtractor = echo.ExtractIPFromXFFHeader(opts...)
	return invalid
}

// trustOptions turns off Echo's built-in loopback/private trust so only the
// configured ranges count as proxies.
func trustOptions(cidrs []string) ([]echo.TrustOption, []string) {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	var invalid []string
	for _, raw := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(raw))
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		opts = append(opts, echo.TrustIPRange(network))
	}
	return opts, invalid
}
