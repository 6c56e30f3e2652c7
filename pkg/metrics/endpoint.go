package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// EndpointHandler serves /metrics in Prometheus exposition format, guarded
// by a per-process request rate limit so a misbehaving scraper config can't
// turn metrics collection into a load-testing tool against itself.
type EndpointHandler struct {
	next    http.Handler
	limiter *rate.Limiter

	mu       sync.Mutex
	rejected int
}

// NewEndpointHandler wraps the default Prometheus handler with rate limiting.
// burst allows short scrape bursts (e.g. two scrapers with skewed schedules)
// without rejecting legitimate traffic.
func NewEndpointHandler(requestsPerSecond float64, burst int) *EndpointHandler {
	return &EndpointHandler{
		next:    promhttp.Handler(),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (h *EndpointHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.mu.Lock()
		h.rejected++
		h.mu.Unlock()
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many scrape requests", http.StatusTooManyRequests)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	h.next.ServeHTTP(w, r)
}

// Rejected returns the number of scrape requests refused by the rate limiter
// so far. Intended for diagnostics, not for exposure as a metric itself
// (doing so would require the handler to scrape its own counter mid-request).
func (h *EndpointHandler) Rejected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejected
}

// NewMetricsServer builds the *http.Server for a dedicated metrics listener
// with fixed read, write and idle timeouts. It does not start listening; the
// caller starts the returned server and shuts it down.
func NewMetricsServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
