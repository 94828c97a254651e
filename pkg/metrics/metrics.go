// Package metrics exposes Prometheus instrumentation for the server: gauges
// over the live stream/processing registries and an HTTP request counter
// installed as echo middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the process's collectors behind one scrape handler.
type Registry struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the registry with the standard Go and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_agent_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resume_agent_http_request_duration_seconds",
			Help:    "HTTP request latency by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(r.httpRequests, r.httpDuration)
	return r
}

// RegisterGauges installs gauges that read the live registries on scrape.
func (r *Registry) RegisterGauges(activeStreams, processingSessions, runningPipelines func() int) {
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "resume_agent_active_streams",
			Help: "Open SSE streams.",
		}, func() float64 { return float64(activeStreams()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "resume_agent_processing_sessions",
			Help: "Sessions holding a processing slot.",
		}, func() float64 { return float64(processingSessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "resume_agent_running_pipelines",
			Help: "Pipeline runs in flight.",
		}, func() float64 { return float64(runningPipelines()) }),
	)
}

// Middleware counts and times HTTP requests.
func (r *Registry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)

			status := http.StatusOK
			if resp, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
				status = resp.Status
			}
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			method := c.Request().Method
			r.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
			r.httpDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the scrape endpoint.
func (r *Registry) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
