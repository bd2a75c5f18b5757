package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "command_queued_total",
		Help: "The number of commands accepted into the queue.",
	}, []string{
		"command",
		"kind",
	})

	commandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "command_rejected_total",
		Help: "The number of commands rejected because the queue was full.",
	}, []string{
		"command",
	})

	commandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "command_queue_depth",
		Help: "The number of commands waiting for the next frame.",
	})
)

func instrumentCommandQueued(c Command, depth int) {
	commandsQueued.With(prometheus.Labels{
		"command": c.Name,
		"kind":    c.Kind.String(),
	}).Inc()
	commandQueueDepth.Set(float64(depth))
}

func instrumentCommandRejected(c Command) {
	commandsRejected.With(prometheus.Labels{
		"command": c.Name,
	}).Inc()
}

func instrumentCommandDrained() {
	commandQueueDepth.Set(0)
}
