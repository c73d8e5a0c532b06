package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// recordsTotal counts recorded iterations by stage and whether a value was stored
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowstat_checkpoint_records_total",
		Help: "Recorded Monte-Carlo iterations by stage and scored flag",
	}, []string{"stage", "scored"})

	// restartsTotal counts discarded checkpoints by reason
	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowstat_checkpoint_restarts_total",
		Help: "Checkpoints cleared on open by stage and reason",
	}, []string{"stage", "reason"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowstat_checkpoint_completions_total",
		Help: "Stages marked complete",
	}, []string{"stage"})
)
