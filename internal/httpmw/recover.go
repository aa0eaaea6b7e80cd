package httpmw

import (
	"net/http"

	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/xerrors"
)

// Recover returns middleware that converts handler panics into 500
// responses. The panic is logged with a stack; onPanic (if set) is
// called for metrics.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// a client walking away mid-write is not a server bug
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				} else {
					err = xerrors.WithStack(err)
				}
				if L != nil {
					L.Error(r.Context(), err, "panic recovered in http handler",
						"http.request.method", r.Method,
						"url.path", r.URL.Path,
					)
				}

				// headers may already be partially written; best effort
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("internal server error\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
