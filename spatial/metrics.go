package spatial

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spatialQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_queries_total",
		Help: "The number of spatial queries served.",
	}, []string{
		"query",
		"cache",
	})

	spatialQueryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_query_results_total",
		Help: "The number of hits returned by spatial queries.",
	}, []string{
		"query",
	})

	spatialQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spatial_query_duration_seconds",
		Help:    "The time spent serving a spatial query.",
		Buckets: []float64{.000001, .00001, .0001, .001, .01, .1},
	}, []string{
		"query",
	})

	spatialIndexNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_index_nodes",
		Help: "The number of nodes in the spatial index.",
	})

	spatialIndexEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_index_entities",
		Help: "The number of entities held by the spatial index.",
	})

	spatialIndexOutOfBounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_index_out_of_bounds",
		Help: "The number of indexed entities currently outside world bounds.",
	})

	spatialIndexDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_index_depth",
		Help: "The deepest subdivision level in use.",
	})

	spatialIndexRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_index_rebuilds_total",
		Help: "The number of full index rebuilds.",
	})

	spatialInvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spatial_invariant_violations_total",
		Help: "The number of detected index invariant violations.",
	}, []string{
		"reason",
	})

	spatialSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spatial_sync_duration_seconds",
		Help:    "The time spent synchronizing entity positions into the index.",
		Buckets: []float64{.00001, .0001, .001, .01, .1},
	})

	spatialSyncRelocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spatial_sync_relocations_total",
		Help: "The number of relocations issued by the synchronizer.",
	})

	spatialCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_cache_entries",
		Help: "The number of entries in the query result cache.",
	})
)

func instrumentQuery(kind QueryKind, d time.Duration, results int, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	spatialQueries.With(prometheus.Labels{
		"query": string(kind),
		"cache": cache,
	}).Inc()
	spatialQueryResults.With(prometheus.Labels{
		"query": string(kind),
	}).Add(float64(results))
	spatialQueryDuration.With(prometheus.Labels{
		"query": string(kind),
	}).Observe(d.Seconds())
}

func instrumentSync(res SyncResult) {
	spatialSyncDuration.Observe(res.Duration.Seconds())
	spatialSyncRelocations.Add(float64(res.Relocated))
}

func instrumentIndex(info DebugInfo) {
	spatialIndexNodes.Set(float64(info.NodeCount))
	spatialIndexEntities.Set(float64(info.EntityCount))
	spatialIndexOutOfBounds.Set(float64(info.OutOfBounds))
	spatialIndexDepth.Set(float64(info.MaxDepthInUse))
}

func instrumentRebuild() {
	spatialIndexRebuilds.Inc()
}

func instrumentInvariantViolation(reason string) {
	spatialInvariantViolations.With(prometheus.Labels{
		"reason": reason,
	}).Inc()
}

func instrumentCache(size int) {
	spatialCacheEntries.Set(float64(size))
}
