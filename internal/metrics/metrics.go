package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollbox",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pollbox",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Votes counts vote attempts by outcome: stored, changed, rejected or failed.
	Votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollbox",
		Name:      "votes_total",
		Help:      "Vote attempts by outcome.",
	}, []string{"outcome"})

	// ResultsCache counts results lookups by hit or miss.
	ResultsCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollbox",
		Name:      "results_cache_lookups_total",
		Help:      "Results cache lookups by outcome.",
	}, []string{"outcome"})

	// VoteEvents counts vote events by how they were recorded: published, fallback or consumed.
	VoteEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pollbox",
		Name:      "vote_events_total",
		Help:      "Vote events by delivery path.",
	}, []string{"path"})
)

// Middleware records request count and latency labelled by the matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
