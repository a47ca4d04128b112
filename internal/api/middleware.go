package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
)

func (s *PolyglotApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.WithError(panicError).Errorf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// logRequest is a gorilla/handlers log formatter that writes access logs
// through logrus instead of the supplied writer.
func (s *PolyglotApp) logRequest(_ io.Writer, params handlers.LogFormatterParams) {
	s.log.WithFields(logrus.Fields{
		"method":      params.Request.Method,
		"path":        params.URL.Path,
		"status":      params.StatusCode,
		"size":        params.Size,
		"duration_ms": time.Since(params.TimeStamp).Milliseconds(),
		"remote_addr": params.Request.RemoteAddr,
	}).Debug("request handled")
}
