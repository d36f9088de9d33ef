package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"bikefleet-backend/internal/config"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/security"
)

type contextKey string

const claimsKey contextKey = "claims"

func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"path", r.URL.Path,
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// secure applies the security level configured for the route
func (s *Server) secure(route string, next http.Handler) http.Handler {
	level := config.GetSecurityLevel(route)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch level {
		case config.SecurityPublic:
			next.ServeHTTP(w, r)
			return
		case config.SecurityWebhook:
			if !s.webhookSourceAllowed(r) {
				logger.Warn("Webhook from disallowed source", "remote_addr", r.RemoteAddr)
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.authenticate(r, level)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errForbidden) {
				status = http.StatusForbidden
			}
			writeJSON(w, status, errorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

var errForbidden = errors.New("insufficient permissions")

func (s *Server) authenticate(r *http.Request, level config.SecurityLevel) (*security.Claims, error) {
	if level == config.SecurityAdmin {
		if key := r.Header.Get("X-API-Key"); key != "" && s.opts.APIKey != nil {
			if err := s.opts.APIKey.Verify(key); err != nil {
				return nil, err
			}
			return &security.Claims{Role: security.RoleAdmin}, nil
		}
	}

	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	if s.opts.Tokens == nil {
		return nil, security.ErrInvalidToken
	}
	claims, err := s.opts.Tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	switch level {
	case config.SecurityClient:
		if claims.Role != security.RoleClient {
			return nil, fmt.Errorf("%w: client token required", errForbidden)
		}
	case config.SecurityAdmin:
		if claims.Role != security.RoleAdmin {
			return nil, fmt.Errorf("%w: admin access required", errForbidden)
		}
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("authorization token is not provided")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("authorization header must be a bearer token")
	}
	return token, nil
}

// webhookSourceAllowed checks the peer address. An empty allowlist admits every source.
func (s *Server) webhookSourceAllowed(r *http.Request) bool {
	if len(s.opts.WebhookCIDRs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.opts.WebhookCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseCIDRs turns webhook.allowed_cidrs into networks. Bare addresses are accepted.
func ParseCIDRs(values []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("invalid webhook source %q", v)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook source %q: %w", v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func claimsFrom(ctx context.Context) *security.Claims {
	claims, _ := ctx.Value(claimsKey).(*security.Claims)
	return claims
}
