package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// HTTPCollectors are the collectors the status server records requests into
type HTTPCollectors struct {
	// Requests is labelled by method, endpoint and status_code
	Requests *prometheus.CounterVec
	// Duration is labelled by method and endpoint
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// StatusServerCollectors returns the package level HTTP collectors
func StatusServerCollectors() HTTPCollectors {
	return HTTPCollectors{
		Requests: HTTPRequestsTotal,
		Duration: HTTPRequestDuration,
		InFlight: HTTPRequestsInFlight,
	}
}

// statusRecorder keeps the first status code written
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// HTTPMiddleware records status server requests. The endpoint label is the
// matched route template, so /cycles/{id} is one series however many cycle
// IDs are queried
func HTTPMiddleware(c HTTPCollectors) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.InFlight != nil {
				c.InFlight.Inc()
				defer c.InFlight.Dec()
			}
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rw, r)

			if rw.status == 0 {
				rw.status = http.StatusOK
			}
			endpoint := routeTemplate(r)
			elapsed := time.Since(start)
			c.Requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rw.status)).Inc()
			c.Duration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())

			log.Debug().
				Str("method", r.Method).
				Str("endpoint", endpoint).
				Int("status", rw.status).
				Int("bytes", rw.bytes).
				Dur("elapsed", elapsed).
				Msg("Status request")
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
