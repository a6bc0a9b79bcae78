package kvs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics is the storage-engine's instrument set, adapted in place from
// dreamsxin-wal/metrics.go's walMetrics: the same flat-struct-built-once-per-
// instance-via-promauto.With(reg) shape, renamed from WAL append/read/rotate/
// truncate counters to the engine's set/get/remove/compact counters so two
// engines opened in the same process (tests routinely do this) never collide
// on prometheus's default global registry.
type engineMetrics struct {
	sets             prometheus.Counter
	gets             prometheus.Counter
	removes          prometheus.Counter
	removeMisses     prometheus.Counter
	bytesWritten     prometheus.Counter
	segmentRollovers prometheus.Counter
	compactionRuns   prometheus.Counter
	compactionErrors prometheus.Counter
	segmentsRetired  prometheus.Counter
	liveKeys         prometheus.GaugeFunc
}

func newEngineMetrics(reg prometheus.Registerer, liveKeyCount func() float64) *engineMetrics {
	m := &engineMetrics{
		sets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_sets_total",
			Help: "Number of Set operations applied.",
		}),
		gets: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_gets_total",
			Help: "Number of Get operations served.",
		}),
		removes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_removes_total",
			Help: "Number of Remove operations applied.",
		}),
		removeMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_remove_misses_total",
			Help: "Number of Remove calls for a key with no live index entry.",
		}),
		bytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_bytes_written_total",
			Help: "Bytes appended to segment files, including record headers.",
		}),
		segmentRollovers: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_segment_rollovers_total",
			Help: "Number of times a new active segment was created.",
		}),
		compactionRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_compaction_runs_total",
			Help: "Number of completed compaction passes (each may retire several segments).",
		}),
		compactionErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_compaction_errors_total",
			Help: "Number of automatic (post-write) compaction passes aborted by an I/O error.",
		}),
		segmentsRetired: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "kvs_engine_segments_retired_total",
			Help: "Number of sealed segment files removed by compaction.",
		}),
	}
	m.liveKeys = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kvs_engine_live_keys",
		Help: "Number of keys currently present in the index.",
	}, liveKeyCount)
	return m
}
