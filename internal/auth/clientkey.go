package auth

import (
	"context"
	"net"
	"strings"
)

// RequestInfo is the part of an inbound request a ClientKeyFunc may inspect.
// huma.Context satisfies it.
type RequestInfo interface {
	RemoteAddr() string
	Header(name string) string
}

// ClientKeyFunc derives the identity a nonce is bound to.
type ClientKeyFunc func(r RequestInfo) string

// RemoteAddrKey keys clients by network address with the port stripped.
func RemoteAddrKey(r RequestInfo) string {
	addr := r.RemoteAddr()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// HeaderKey keys clients by the value of the named header, falling back to
// the network address when the header is absent.
func HeaderKey(name string) ClientKeyFunc {
	return func(r RequestInfo) string {
		if v := strings.TrimSpace(r.Header(name)); v != "" {
			return "header:" + v
		}
		return RemoteAddrKey(r)
	}
}

type contextKey struct{}

// WithClientKey stores the resolved client key in the context.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// ClientKeyFromContext retrieves the client key from the context.
// Returns "" if none is set.
func ClientKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKey{}).(string)
	return key
}
