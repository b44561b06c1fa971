package middleware

import (
	"net/http"
	"strings"
)

// BodyLimit caps the request body size: multipart uploads get the larger
// upload budget, everything else the JSON body budget. Oversized bodies
// surface as a read error in the handler's decoder, which reports bad input.
func BodyLimit(maxBody, maxUpload int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				limit := maxBody
				if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
					limit = maxUpload
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
