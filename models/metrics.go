package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	behaviorLabel = "behavior"
)

var (
	sceneEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_entity_count",
		Help: "The number of entities in the scene.",
	}, []string{behaviorLabel})

	sceneEntityCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_entity_count_total",
		Help: "The total number of spawned entities.",
	}, []string{behaviorLabel})

	sceneClientCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_client_count",
		Help: "The number of connected debug clients.",
	})

	sceneFrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scene_frame_duration_seconds",
		Help:    "The time spent running one simulation frame.",
		Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5},
	})
)

func instrumentSpawnEntity(behavior string) {
	sceneEntityCount.
		With(prometheus.Labels{behaviorLabel: behavior}).
		Inc()
	sceneEntityCountTotal.
		With(prometheus.Labels{behaviorLabel: behavior}).
		Inc()
}

func instrumentDespawnEntity(behavior string) {
	sceneEntityCount.
		With(prometheus.Labels{behaviorLabel: behavior}).
		Dec()
}

func instrumentClientConnected() {
	sceneClientCount.Inc()
}

func instrumentClientDisconnected() {
	sceneClientCount.Dec()
}

func instrumentFrame(d time.Duration) {
	sceneFrameDuration.Observe(d.Seconds())
}
