package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for card issuance, verification and the
// verification cache. All methods are nil-safe so components can run without it.
type Metrics struct {
	CacheLookups        *prometheus.CounterVec
	CacheLoads          *prometheus.CounterVec
	CacheEvictions      prometheus.Counter
	CacheInvalidations  prometheus.Counter
	CacheDiscardedLoads prometheus.Counter
	CacheEntries        prometheus.Gauge

	VerifyOutcomes *prometheus.CounterVec
	VerifyLatency  prometheus.Histogram

	IssueOutcomes *prometheus.CounterVec

	WarmKeys *prometheus.CounterVec

	CircuitOpen *prometheus.GaugeVec
}

// New creates and registers the card metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberpass_cache_lookups_total",
			Help: "Verification cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss"

		CacheLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberpass_cache_loads_total",
			Help: "Member store loads issued by the verification cache by outcome",
		}, []string{"outcome"}), // outcome: "ok", "not_found", "timeout", "error"

		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "memberpass_cache_evictions_total",
			Help: "Entries evicted from the verification cache to stay within capacity",
		}),

		CacheInvalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "memberpass_cache_invalidations_total",
			Help: "Explicit verification cache invalidations",
		}),

		CacheDiscardedLoads: f.NewCounter(prometheus.CounterOpts{
			Name: "memberpass_cache_discarded_loads_total",
			Help: "Completed loads dropped because the key was invalidated while in flight",
		}),

		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "memberpass_cache_entries",
			Help: "Current number of entries in the verification cache",
		}),

		VerifyOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberpass_verify_outcomes_total",
			Help: "Card verifications by reason",
		}, []string{"reason"}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "memberpass_verify_duration_seconds",
			Help:    "Duration of card verification including cache and store lookups",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		IssueOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberpass_issue_outcomes_total",
			Help: "Card issuance attempts by outcome code",
		}, []string{"outcome"}),

		WarmKeys: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memberpass_cache_warm_keys_total",
			Help: "Keys processed by cache warming by result",
		}, []string{"result"}), // result: "loaded", "cached", "failed"

		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "memberpass_circuit_open",
			Help: "1 while the named circuit breaker is open",
		}, []string{"breaker"}),
	}
}

func (m *Metrics) IncrementCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) IncrementCacheLoad(outcome string) {
	if m != nil {
		m.CacheLoads.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementEviction() {
	if m != nil {
		m.CacheEvictions.Inc()
	}
}

func (m *Metrics) IncrementInvalidation() {
	if m != nil {
		m.CacheInvalidations.Inc()
	}
}

func (m *Metrics) IncrementDiscardedLoad() {
	if m != nil {
		m.CacheDiscardedLoads.Inc()
	}
}

func (m *Metrics) AddCacheEntries(delta int) {
	if m != nil {
		m.CacheEntries.Add(float64(delta))
	}
}

// ObserveVerification records a verification outcome and its duration.
func (m *Metrics) ObserveVerification(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.VerifyOutcomes.WithLabelValues(reason).Inc()
	m.VerifyLatency.Observe(d.Seconds())
}

func (m *Metrics) IncrementIssueOutcome(outcome string) {
	if m != nil {
		m.IssueOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementWarmKey(result string) {
	if m != nil {
		m.WarmKeys.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetCircuitOpen(breaker string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(breaker).Set(v)
}
