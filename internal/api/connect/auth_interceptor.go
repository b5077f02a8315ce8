// Package connect provides the admin Connect RPC service.
package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"

	"github.com/osa030/voicebox/internal/infra/config"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

// adminAuthInterceptor rejects calls whose X-Admin-Token does not match the configured token.
type adminAuthInterceptor struct {
	token string
}

// NewAdminAuthInterceptor creates an interceptor that validates admin tokens
// from request metadata for unary and streaming AdminService methods.
func NewAdminAuthInterceptor(cfg *config.Config) connect.Interceptor {
	return &adminAuthInterceptor{token: cfg.Admin.Token}
}

func (i *adminAuthInterceptor) valid(token string) bool {
	if token == "" || i.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) == 1
}

func (i *adminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if !i.valid(req.Header().Get(AdminTokenHeader)) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *adminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *adminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.valid(conn.RequestHeader().Get(AdminTokenHeader)) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}
