package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rr2atom_notifications_processed_total",
			Help: "Notifications stored as chapters",
		},
	)

	StoriesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rr2atom_stories_created_total",
			Help: "Stories seen for the first time",
		},
	)

	FeedsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rr2atom_feeds_written_total",
			Help: "Story feeds regenerated",
		},
	)

	UpdatePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rr2atom_update_passes_total",
			Help: "Update passes by result",
		},
		[]string{"result"},
	)

	ServeLoopErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rr2atom_serve_loop_errors_total",
			Help: "Failed idle/update iterations in serve mode",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rr2atom_http_requests_total",
			Help: "Requests to the feed server",
		},
		[]string{"method", "path", "status_code"},
	)
)
