package symbolsource

import "github.com/prometheus/client_golang/prometheus"

// Metrics are shared by every Source created with them.
type Metrics struct {
	SymbolRecords     *prometheus.CounterVec
	LineRecords       *prometheus.CounterVec
	EnumerationErrors *prometheus.CounterVec
	LoadDuration      *prometheus.HistogramVec
	LookupCache       *prometheus.CounterVec
	NegativeHits      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SymbolRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbsym_symbol_records_total",
			Help: "Total number of symbol records seen while loading, by outcome",
		}, []string{"outcome"}),
		LineRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbsym_line_records_total",
			Help: "Total number of line records seen while loading, by outcome",
		}, []string{"outcome"}),
		EnumerationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbsym_enumeration_errors_total",
			Help: "Total number of provider enumerations that ended with an error",
		}, []string{"pass"}),
		LoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdbsym_load_duration_seconds",
			Help:    "Duration of a completed population pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"pass"}),
		LookupCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbsym_lookup_cache_total",
			Help: "Total number of nearest-symbol lookups by cache result",
		}, []string{"result"}),
		NegativeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdbsym_negative_cache_hits_total",
			Help: "Total number of exact lookups answered by the negative cache",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SymbolRecords,
			m.LineRecords,
			m.EnumerationErrors,
			m.LoadDuration,
			m.LookupCache,
			m.NegativeHits,
		)
	}

	return m
}
