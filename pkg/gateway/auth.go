package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Authorizer controls incoming gateway requests.
type Authorizer interface {
	Allow(ctx context.Context, remoteAddr string) error
}

// NoopAuthorizer allows every request.
type NoopAuthorizer struct{}

func (NoopAuthorizer) Allow(context.Context, string) error {
	return nil
}

// AllowlistAuthorizer allows only specific remote addresses. An empty list
// allows everyone.
type AllowlistAuthorizer struct {
	Allowed []string
}

func (a AllowlistAuthorizer) Allow(ctx context.Context, remoteAddr string) error {
	if len(a.Allowed) == 0 {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	for _, addr := range a.Allowed {
		if addr == remoteAddr || addr == host {
			return nil
		}
		if _, cidr, err := net.ParseCIDR(addr); err == nil {
			if ip := net.ParseIP(host); ip != nil && cidr.Contains(ip) {
				return nil
			}
		}
	}
	return fmt.Errorf("remote address not allowed: %s", remoteAddr)
}

// authorize rejects requests the authorizer refuses with 403.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizer.Allow(c.Request.Context(), c.Request.RemoteAddr); err != nil {
			s.logWarn("request_denied", "remote", c.Request.RemoteAddr, "error", err)
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		c.Next()
	}
}
