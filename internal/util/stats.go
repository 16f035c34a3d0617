package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation/recovery counter.
var Stats = &stats{}

type stats struct {
	Offers   atomic.Int64 // local offers applied
	Answers  atomic.Int64 // local answers applied
	Dropped  atomic.Int64 // negotiation calls dropped (illegal state, duplicate, reset in progress)
	Restarts atomic.Int64 // in-place connectivity restarts
	Resets   atomic.Int64 // hard resets (engine handle replaced)
}

func (s *stats) AddOffer()   { s.Offers.Add(1) }
func (s *stats) AddAnswer()  { s.Answers.Add(1) }
func (s *stats) AddDropped() { s.Dropped.Add(1) }
func (s *stats) AddRestart() { s.Restarts.Add(1) }
func (s *stats) AddReset()   { s.Resets.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Prometheus export
// ──────────────────────────────────────────────────────────────────────────────

var (
	descOffers   = prometheus.NewDesc("peercall_offers_total", "Local SDP offers applied.", nil, nil)
	descAnswers  = prometheus.NewDesc("peercall_answers_total", "Local SDP answers applied.", nil, nil)
	descDropped  = prometheus.NewDesc("peercall_dropped_total", "Negotiation calls dropped as illegal, duplicate or stale.", nil, nil)
	descRestarts = prometheus.NewDesc("peercall_ice_restarts_total", "In-place connectivity restarts.", nil, nil)
	descResets   = prometheus.NewDesc("peercall_resets_total", "Hard resets of the engine handle.", nil, nil)
)

// Collector exposes Stats as Prometheus counters.
func Collector() prometheus.Collector { return Stats }

func (s *stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- descOffers
	ch <- descAnswers
	ch <- descDropped
	ch <- descRestarts
	ch <- descResets
}

func (s *stats) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descOffers, prometheus.CounterValue, float64(s.Offers.Load()))
	ch <- prometheus.MustNewConstMetric(descAnswers, prometheus.CounterValue, float64(s.Answers.Load()))
	ch <- prometheus.MustNewConstMetric(descDropped, prometheus.CounterValue, float64(s.Dropped.Load()))
	ch <- prometheus.MustNewConstMetric(descRestarts, prometheus.CounterValue, float64(s.Restarts.Load()))
	ch <- prometheus.MustNewConstMetric(descResets, prometheus.CounterValue, float64(s.Resets.Load()))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs negotiation statistics
// every interval, but only when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.sub(prev)))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	offers, answers, dropped, restarts, resets int64
}

func takeSnapshot() snapshot {
	return snapshot{
		offers:   Stats.Offers.Load(),
		answers:  Stats.Answers.Load(),
		dropped:  Stats.Dropped.Load(),
		restarts: Stats.Restarts.Load(),
		resets:   Stats.Resets.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		offers:   s.offers - o.offers,
		answers:  s.answers - o.answers,
		dropped:  s.dropped - o.dropped,
		restarts: s.restarts - o.restarts,
		resets:   s.resets - o.resets,
	}
}

// formatStats returns a one-line summary of a stats delta for the logger.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Offer: %2d | Answer: %2d | Dropped: %2d | Restart: %2d | Reset: %2d",
		d.offers,
		d.answers,
		d.dropped,
		d.restarts,
		d.resets,
	)
}
