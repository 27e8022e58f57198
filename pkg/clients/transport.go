package clients

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/porter/pkg/metrics"
)

var httpRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "porter_http_requests_total",
		Help: "Total number of HTTP requests made by connectors",
	},
	[]string{"connector", "code"},
)

var httpDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "porter_http_request_duration_seconds",
		Help:    "Duration of connector HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"connector"},
)

// Transport rate limits and instruments requests before handing them to
// Base.
type Transport struct {
	// Connector labels the request metrics
	Connector string
	Limiter   RateLimiter
	// Base defaults to http.DefaultTransport
	Base http.RoundTripper
}

// NewTransport wraps base with limiter.
func NewTransport(connector string, limiter RateLimiter, base http.RoundTripper) *Transport {
	return &Transport{Connector: connector, Limiter: limiter, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	timer := metrics.NewTimer()
	resp, err := base.RoundTrip(req)
	httpDuration.WithLabelValues(t.Connector).Observe(timer.Stop().Seconds())

	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	httpRequests.WithLabelValues(t.Connector, code).Inc()
	return resp, err
}
