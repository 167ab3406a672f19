package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecksTotal tracks the total number of permission checks
	PermissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardclaw_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"decision"},
	)

	// ApprovalRequestsTotal tracks the number of approval round-trips
	ApprovalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardclaw_approval_requests_total",
			Help: "Total number of approval requests",
		},
		[]string{"outcome"},
	)

	// AuditEntriesTotal tracks the number of audit log entries written
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardclaw_audit_entries_total",
			Help: "Total number of audit log entries",
		},
		[]string{"result"},
	)

	// NotificationsTotal tracks dispatched notification events
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wardclaw_notifications_total",
			Help: "Total number of dispatched notification events",
		},
		[]string{"notifier", "status"},
	)

	// AuditFlushDuration tracks the time taken to persist the audit log
	AuditFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wardclaw_audit_flush_seconds",
			Help:    "Duration of audit log flushes",
			Buckets: prometheus.DefBuckets,
		},
	)
)
