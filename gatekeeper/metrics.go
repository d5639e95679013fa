package gatekeeper

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"strconv"
	"time"
)

const metricsNamespace = "gatekeeper"

// metricCredentialsIssued counts issue commands that reached provisioning.
// Labels:
//   - kind: "self" or "target"
//   - role: the issued role
var metricCredentialsIssued = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "credentials_issued_total",
		Help:      "Total number of credentials generated and sent for provisioning.",
	},
	[]string{"kind", "role"},
)

// metricProvisionOutcomes counts registration attempts by outcome
// (success, rejected, unreachable)
var metricProvisionOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "provision_outcomes_total",
		Help:      "Total number of registration attempts against the account store, by outcome.",
	},
	[]string{"outcome"},
)

var metricProvisionDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "provision_duration_seconds",
		Help:      "Duration of registration requests to the account store.",
		Buckets:   prometheus.DefBuckets,
	},
)

// metricDeliveries counts final delivery states of issue commands
var metricDeliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "deliveries_total",
		Help:      "Total number of issue commands, by final delivery state.",
	},
	[]string{"state"},
)

// metricCommands counts handled discord commands.
// Labels:
//   - command: canonical command name
//   - result: "ok", "denied" or "error"
var metricCommands = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "discord_commands_total",
		Help:      "Total number of discord commands handled.",
	},
	[]string{"command", "result"},
)

// metricStoreRegistrations counts account store registrations by source
// ("provider" or "self") and result
var metricStoreRegistrations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "store_registrations_total",
		Help:      "Total number of account registrations handled by the account store.",
	},
	[]string{"source", "result"},
)

var metricStoreLogins = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "store_logins_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

var metricHTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of account store HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

var metricDiscordConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "discord_connected",
		Help:      "1 while the discord gateway connection is up.",
	},
)

// metricMiddleware records request durations by route template, so
// path parameters don't explode label cardinality.
func metricMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricHTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
