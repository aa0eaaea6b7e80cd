package tracker

import (
	"net/http"

	"github.com/keithlinneman/toptalkers/internal/httpmw"
)

// Middleware returns middleware that records each request against the
// resolved client IP and always passes the request through. Recording
// is a few map operations under a mutex, it never rejects or delays a
// request.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// use the httpmw function for resolving client IP, which handles
		// x-forwarded-for according to the configured trusted hops
		t.Record(httpmw.ClientIPFromContext(r.Context()))
		next.ServeHTTP(w, r)
	})
}
