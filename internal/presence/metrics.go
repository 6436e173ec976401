package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	guardianRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kidspresence_guardian_requests_total",
		Help: "Guardian gateway calls by action and result.",
	}, []string{"action", "result"})

	staffApprovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kidspresence_staff_approvals_total",
		Help: "Staff approvals by intent and result.",
	}, []string{"intent", "result"})

	feedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kidspresence_feed_events_total",
		Help: "Change-feed events consumed by the sync bridge.",
	}, []string{"type"})
)

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
