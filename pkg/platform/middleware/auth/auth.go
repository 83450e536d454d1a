// Package auth extracts caller identity from bearer tokens.
//
// Authorization decisions happen upstream; this middleware only parses the
// token and populates requestcontext with tenant, user, and session identity
// so handlers and audit rows can reference the caller. Requests without a
// valid token pass through unauthenticated; handlers that require identity
// reject with CodeUnauthorized.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "github.com/adverant/nexus-compliance/pkg/domain"
	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Claims is the token payload this service understands.
type Claims struct {
	TenantID  string `json:"tid"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Middleware returns an identity-extraction middleware validating HS256
// tokens with the given signing key.
func Middleware(signingKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if tenantID, err := id.ParseTenantID(claims.TenantID); err == nil {
				ctx = requestcontext.WithTenantID(ctx, tenantID)
			}
			if userID, err := id.ParseUserID(claims.Subject); err == nil {
				ctx = requestcontext.WithUserID(ctx, userID)
			}
			if claims.SessionID != "" {
				ctx = requestcontext.WithSessionID(ctx, claims.SessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
