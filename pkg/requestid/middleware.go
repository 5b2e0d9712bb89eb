package requestid

import (
	"net/http"

	"github.com/google/uuid"
)

// Header carries the request ID between executors and the gateway.
const Header = "X-Request-ID"

const maxLength = 128

// Middleware reuses a valid incoming request ID or assigns a new one, stores it
// in the request context and echoes it in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !Valid(id) {
			id = New()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

// Propagate sets the request ID header on an outgoing request, taking the ID
// from the request context when there is one. It returns the ID sent.
func Propagate(req *http.Request) string {
	id := FromContext(req.Context())
	if !Valid(id) {
		id = New()
	}
	req.Header.Set(Header, id)
	return id
}

// New generates a request ID
func New() string {
	return uuid.NewString()
}

// Valid reports whether id is acceptable as a request ID: 1 to 128 ASCII
// letters, digits, '-' or '_'.
func Valid(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
