// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page result label values.
const (
	PageFetched  = "fetched"
	PageTimedOut = "timed_out"
	PageFailed   = "failed"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_crawler_pages_total",
			Help: "Total number of page fetches, labeled by result.",
		},
		[]string{"result"},
	)
	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_crawler_records_total",
		Help: "Total number of records extracted.",
	})
	recordsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_crawler_records_dropped_total",
		Help: "Total number of record containers dropped because a field was missing.",
	})
	pacingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listing_crawler_pacing_seconds",
		Help:    "Histogram of pacing delays between page fetches.",
		Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15},
	})
)

// ObservePage increments the page counter for the given result.
func ObservePage(result string) {
	pagesTotal.WithLabelValues(result).Inc()
}

// ObserveRecords adds n extracted records.
func ObserveRecords(n int) {
	if n > 0 {
		recordsTotal.Add(float64(n))
	}
}

// ObserveDroppedRecord counts one malformed record.
func ObserveDroppedRecord() {
	recordsDroppedTotal.Inc()
}

// ObservePacing records a pacing delay.
func ObservePacing(d time.Duration) {
	pacingSeconds.Observe(d.Seconds())
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
