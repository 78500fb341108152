package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	authOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_auth_outcomes_total",
		Help: "Authentication attempts by outcome and denial reason",
	}, []string{"outcome", "reason"})
	emergencyAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_auth_emergency_access_total",
		Help: "Break-glass invocations by result",
	}, []string{"result"})
	auditEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_auth_audit_events_total",
		Help: "Security events recorded by severity",
	}, []string{"severity"})
	auditFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admin_auth_audit_fallback_total",
		Help: "Security events diverted to the local fallback buffer",
	})
	auditAlertFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admin_auth_audit_alert_failures_total",
		Help: "Critical-event alert hook failures",
	})
	rateLimitDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_auth_rate_limit_denied_total",
		Help: "Requests denied by the rate limiter by action",
	}, []string{"action"})
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admin_auth_active_sessions",
		Help: "Admin sessions currently held in memory",
	})
	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "admin_auth_sweep_duration_seconds",
		Help:    "Duration of the periodic sweep",
		Buckets: prometheus.DefBuckets,
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		authOutcomesTotal,
		emergencyAccessTotal,
		auditEventsTotal,
		auditFallbackTotal,
		auditAlertFailuresTotal,
		rateLimitDeniedTotal,
		activeSessions,
		sweepDuration,
	)
}

func IncAuthOutcome(outcome, reason string) { authOutcomesTotal.WithLabelValues(outcome, reason).Inc() }

func IncEmergencyAccess(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	emergencyAccessTotal.WithLabelValues(result).Inc()
}

func IncAuditEvent(severity string) { auditEventsTotal.WithLabelValues(severity).Inc() }

func IncAuditFallback() { auditFallbackTotal.Inc() }

func IncAlertFailure() { auditAlertFailuresTotal.Inc() }

func IncRateLimitDenied(action string) { rateLimitDeniedTotal.WithLabelValues(action).Inc() }

// SetActiveSessions publishes the current session count.
func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

func ObserveSweep(seconds float64) { sweepDuration.Observe(seconds) }
