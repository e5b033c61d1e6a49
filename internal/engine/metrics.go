package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type promMetrics struct {
	bars        prometheus.Counter
	rejected    prometheus.Counter
	outliers    prometheus.Counter
	signals     *prometheus.CounterVec
	checkpoints prometheus.Counter
	pending     prometheus.Gauge
	latency     prometheus.Histogram
}

func buildPromMetrics(series string) *promMetrics {
	labels := prometheus.Labels{"series": series}
	return &promMetrics{
		bars: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quantstream_bars_total",
			Help:        "Bars accepted by the pipeline",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quantstream_bars_rejected_total",
			Help:        "Bars rejected as invalid or out of order",
			ConstLabels: labels,
		}),
		outliers: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quantstream_outliers_total",
			Help:        "Closes replaced by the outlier filter",
			ConstLabels: labels,
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "quantstream_signals_total",
			Help:        "Signals emitted by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "quantstream_checkpoints_total",
			Help:        "Successful journal flushes",
			ConstLabels: labels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "quantstream_pending_signals",
			Help:        "Signals buffered and not yet journaled",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "quantstream_process_seconds",
			Help:        "Time spent processing one bar",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

func (m *promMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.bars, m.rejected, m.outliers, m.signals, m.checkpoints, m.pending, m.latency,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
