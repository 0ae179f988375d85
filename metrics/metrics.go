// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes consensus counters and gauges.
package metrics

import (
	"github.com/luxfi/metric"
)

// Metrics tracks the externally observable behavior of the engine.
type Metrics struct {
	blocksAccepted  metric.Counter
	blocksRejected  metric.Counter
	txsAccepted     metric.Counter
	orphansBuffered metric.Counter
	epochsProcessed metric.Counter
	slashings       metric.Counter

	headHeight metric.Gauge
	totalStake metric.Gauge
	txPoolSize metric.Gauge
}

// New creates and registers the metric set.
func New(registerer metric.Registerer) (*Metrics, error) {
	m := &Metrics{
		blocksAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "pos_blocks_accepted",
			Help: "Number of blocks applied to canonical state",
		}),
		blocksRejected: metric.NewCounter(metric.CounterOpts{
			Name: "pos_blocks_rejected",
			Help: "Number of blocks rejected during validation",
		}),
		txsAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "pos_txs_accepted",
			Help: "Number of transactions admitted to the pool",
		}),
		orphansBuffered: metric.NewCounter(metric.CounterOpts{
			Name: "pos_orphans_buffered",
			Help: "Number of blocks buffered while awaiting an ancestor",
		}),
		epochsProcessed: metric.NewCounter(metric.CounterOpts{
			Name: "pos_epochs_processed",
			Help: "Number of epoch boundaries processed",
		}),
		slashings: metric.NewCounter(metric.CounterOpts{
			Name: "pos_slashings",
			Help: "Number of validators slashed",
		}),
		headHeight: metric.NewGauge(metric.GaugeOpts{
			Name: "pos_head_height",
			Help: "Height of the canonical head",
		}),
		totalStake: metric.NewGauge(metric.GaugeOpts{
			Name: "pos_total_active_stake",
			Help: "Total stake of the active validator set",
		}),
		txPoolSize: metric.NewGauge(metric.GaugeOpts{
			Name: "pos_tx_pool_size",
			Help: "Number of pending transactions",
		}),
	}

	collectors := []metric.Counter{
		m.blocksAccepted,
		m.blocksRejected,
		m.txsAccepted,
		m.orphansBuffered,
		m.epochsProcessed,
		m.slashings,
	}
	for _, c := range collectors {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	for _, g := range []metric.Gauge{m.headHeight, m.totalStake, m.txPoolSize} {
		if err := registerer.Register(metric.AsCollector(g)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) MarkBlockAccepted(height uint64) {
	if m == nil {
		return
	}
	m.blocksAccepted.Inc()
	m.headHeight.Set(float64(height))
}

func (m *Metrics) MarkBlockRejected() {
	if m == nil {
		return
	}
	m.blocksRejected.Inc()
}

func (m *Metrics) MarkTxAccepted(poolSize int) {
	if m == nil {
		return
	}
	m.txsAccepted.Inc()
	m.txPoolSize.Set(float64(poolSize))
}

func (m *Metrics) MarkOrphanBuffered() {
	if m == nil {
		return
	}
	m.orphansBuffered.Inc()
}

func (m *Metrics) MarkEpochProcessed(totalStake uint64) {
	if m == nil {
		return
	}
	m.epochsProcessed.Inc()
	m.totalStake.Set(float64(totalStake))
}

func (m *Metrics) MarkSlashing() {
	if m == nil {
		return
	}
	m.slashings.Inc()
}
