package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/openmusicplayer/authgate/internal/logger"
)

// SlowRequestThreshold is the duration above which Timing logs a warning.
const SlowRequestThreshold = 500 * time.Millisecond

// Timing returns a middleware that adds a Server-Timing header and warns about slow requests.
func Timing(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tw := &timingWriter{ResponseWriter: w, start: start}

			next.ServeHTTP(tw, r)
			tw.stamp()

			if duration := time.Since(start); duration > SlowRequestThreshold {
				log.Warn(r.Context(), "slow request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"duration_ms": duration.Milliseconds(),
				})
			}
		})
	}
}

// timingWriter sets Server-Timing right before the header is flushed.
type timingWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set("Server-Timing", formatServerTiming(time.Since(w.start)))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

func formatServerTiming(d time.Duration) string {
	ms := float64(d.Nanoseconds()) / 1e6
	return "total;dur=" + strconv.FormatFloat(ms, 'f', 2, 64)
}

func (w *timingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
