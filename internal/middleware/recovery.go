package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/pkg/utils"
)

// Recovery converts handler panics into 500 responses. The process keeps
// serving; in-flight timers and websocket sessions are unaffected.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic on %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				utils.Error(w, apperrors.InternalError("an unexpected error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
