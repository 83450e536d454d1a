package requestid

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus-compliance/pkg/requestcontext"
)

// Propagate copies the chi-assigned request ID into requestcontext so
// services and audit rows can reference it without importing chi.
// Mount after chi's middleware.RequestID.
func Propagate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := chimiddleware.GetReqID(r.Context())
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
