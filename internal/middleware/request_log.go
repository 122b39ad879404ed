package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/blogchat/internal/logger"
)

// RequestLog логирует каждый запрос к агенту: method, path, статус и время выполнения (асинхронно).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Infof("http %s %s %d %v", r.Method, r.URL.Path, status, time.Since(start).Round(time.Microsecond))
	})
}
