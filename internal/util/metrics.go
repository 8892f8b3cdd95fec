package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_alert_cycles_total",
		Help: "Price alert scan cycles by outcome",
	}, []string{"outcome"})

	AlertsCheckedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_alerts_checked_total",
		Help: "Total number of active alerts evaluated",
	})

	AlertsTriggeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_alerts_triggered_total",
		Help: "Total number of alerts moved to triggered",
	})

	AlertsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_alerts_expired_total",
		Help: "Total number of alerts moved to expired by the sweep",
	})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_alerts_failed_total",
		Help: "Alert evaluations that failed",
	}, []string{"reason"})

	AlertCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_alert_cycle_duration_seconds",
		Help:    "Duration of a full price alert scan cycle",
		Buckets: prometheus.DefBuckets,
	})

	EmailsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Emails delivered by kind",
	}, []string{"kind"})

	EmailsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_failed_total",
		Help: "Email deliveries that failed by kind",
	}, []string{"kind"})

	EmailSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "email_send_latency_seconds",
		Help:    "Latency of a single email send",
		Buckets: prometheus.DefBuckets,
	})

	CampaignsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "email_campaigns_in_flight",
		Help: "Campaigns currently being dispatched",
	})

	IngestRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_total",
		Help: "Records produced by the sheet ingestion job",
	}, []string{"kind"})

	PricesUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prices_upserted_total",
		Help: "Price writes by result",
	}, []string{"result"})

	AuditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_total",
		Help: "Audit entries by delivery path",
	}, []string{"path"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"bucket"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
