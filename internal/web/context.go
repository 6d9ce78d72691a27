package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/csvjson/internal/core"
)

// WithRequestMetadata adds the client IP to ctx so jobs record where they
// came from.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithClientIP(ctx, clientIP(r))
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already replaced for requests from trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
