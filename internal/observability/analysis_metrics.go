package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricPairsTotal       = "plagscan.scheduler.pairs.total"
	metricFilesIngested    = "plagscan.scheduler.files.ingested"
	metricPairDuration     = "plagscan.similarity.pair.duration.seconds"
	metricCacheHitsTotal   = "plagscan.fpstore.cache.hits.total"
	metricCacheMissesTotal = "plagscan.fpstore.cache.misses.total"
	metricCandidatesFanout = "plagscan.invindex.candidates.fanout"

	attrCache = "cache"
	attrStage = "stage"
)

// AnalysisMetrics holds OTel instruments for the detection pipeline:
// pairs scheduled/completed, fingerprint-store cache traffic, and
// inverted-index candidate fan-out.
type AnalysisMetrics struct {
	pairsTotal    metric.Int64Counter
	filesIngested metric.Int64Counter
	pairDuration  metric.Float64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	fanout        metric.Float64Histogram
}

// AnalysisStats holds the statistics for one completed task run.
type AnalysisStats struct {
	PairsTotal      int64
	FilesIngested   int64
	PairDurations   []time.Duration
	TokenCacheHits  int64
	TokenCacheMiss  int64
	ASTCacheHits    int64
	ASTCacheMiss    int64
	CandidateCounts []int
}

// NewAnalysisMetrics creates analysis metric instruments from the given meter.
func NewAnalysisMetrics(mt metric.Meter) (*AnalysisMetrics, error) {
	b := newMetricBuilder(mt)

	am := &AnalysisMetrics{
		pairsTotal:    b.counter(metricPairsTotal, "Total file pairs compared", "{pair}"),
		filesIngested: b.counter(metricFilesIngested, "Total files parsed and fingerprinted", "{file}"),
		pairDuration:  b.histogram(metricPairDuration, "Per-pair comparison duration in seconds", "s", durationBucketBoundaries...),
		cacheHits:     b.counter(metricCacheHitsTotal, "Fingerprint store cache hits by stage", "{hit}"),
		cacheMisses:   b.counter(metricCacheMissesTotal, "Fingerprint store cache misses by stage", "{miss}"),
		fanout:        b.histogram(metricCandidatesFanout, "Candidate count returned by the inverted index per query", "{candidate}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return am, nil
}

// RecordRun records statistics for a completed task run.
// Safe to call on a nil receiver (no-op).
func (am *AnalysisMetrics) RecordRun(ctx context.Context, stats AnalysisStats) {
	if am == nil {
		return
	}

	am.pairsTotal.Add(ctx, stats.PairsTotal)
	am.filesIngested.Add(ctx, stats.FilesIngested)

	for _, d := range stats.PairDurations {
		am.pairDuration.Record(ctx, d.Seconds())
	}

	tokenAttrs := metric.WithAttributes(attribute.String(attrStage, "token"))
	am.cacheHits.Add(ctx, stats.TokenCacheHits, tokenAttrs)
	am.cacheMisses.Add(ctx, stats.TokenCacheMiss, tokenAttrs)

	astAttrs := metric.WithAttributes(attribute.String(attrStage, "ast"))
	am.cacheHits.Add(ctx, stats.ASTCacheHits, astAttrs)
	am.cacheMisses.Add(ctx, stats.ASTCacheMiss, astAttrs)

	for _, n := range stats.CandidateCounts {
		am.fanout.Record(ctx, float64(n))
	}
}
