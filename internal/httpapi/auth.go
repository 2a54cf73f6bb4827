package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/models"
)

type authContextKey struct{}

type authInfo struct {
	SessionID string
	Staff     models.Staff
}

// SessionResolver maps an opaque session id to the staff member behind it.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (models.Staff, error)
}

func AuthMiddleware(resolver SessionResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		member, err := resolver.Resolve(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{SessionID: sessionID, Staff: member})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return authInfo{}, false
	}
	return info, true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (models.Staff, bool) {
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return models.Staff{}, false
	}
	return info.Staff, true
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) (models.Staff, bool) {
	member, ok := requireStaff(w, r)
	if !ok {
		return models.Staff{}, false
	}
	if member.Role != role {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "access denied")
		return models.Staff{}, false
	}
	return member, true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/auth/login":
		return r.Method == http.MethodPost
	case "/api/display", "/api/services":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
