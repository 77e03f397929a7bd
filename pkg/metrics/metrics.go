// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksFinished counts tasks by terminal status
	// ("completed", "failed", "cancelled").
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojo",
		Name:      "tasks_finished_total",
		Help:      "Tasks that reached a terminal state, by outcome.",
	}, []string{"status"})

	// TaskDuration observes wall time of whole pipeline runs.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ojo",
		Name:      "task_duration_seconds",
		Help:      "Wall time of one task's pipeline run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
	})

	// StageDuration observes per-stage wall time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ojo",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of individual pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	// QueueDepth tracks pending tasks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ojo",
		Name:      "queue_depth",
		Help:      "Tasks waiting to be claimed.",
	})

	// RunningTasks tracks in-flight tasks.
	RunningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ojo",
		Name:      "running_tasks",
		Help:      "Tasks currently executing.",
	})

	// LLMRequests counts LLM calls by provider outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ojo",
		Name:      "llm_requests_total",
		Help:      "LLM chat completions, by outcome.",
	}, []string{"outcome"})
)
