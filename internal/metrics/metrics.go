// Package metrics exposes prometheus counters for the task lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskTransitions counts state-machine events by name: create, submit,
	// approve, reject, extend_deadline, delete, fail.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "questboard",
		Name:      "task_transitions_total",
		Help:      "Task lifecycle transitions by event.",
	}, []string{"event"})

	// PointsAwarded totals reward points credited on approvals.
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "questboard",
		Name:      "points_awarded_total",
		Help:      "Reward points credited to members on task approval.",
	})
)
