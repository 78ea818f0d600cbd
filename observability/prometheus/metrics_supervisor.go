// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prometheus exports fiber lifecycle metrics through a
// [fiber.Supervisor].
package prometheus

import (
	"errors"
	"fmt"
	"time"

	"code.hybscloud.com/fiber"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/reusee/dscope"
)

// Outcome label values of the ended counter.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeDefect      = "defect"
	OutcomeInterrupted = "interrupted"
)

// SupervisorOptions controls collector configuration.
type SupervisorOptions struct {
	LifetimeBuckets []float64
}

// MetricsSupervisor records fiber starts, ends and lifetimes.
// Fibers whose flags do not enable [fiber.RuntimeMetrics] are ignored.
type MetricsSupervisor struct {
	started  prom.Counter
	ended    *prom.CounterVec
	active   prom.Gauge
	lifetime prom.Histogram
}

var _ fiber.Supervisor = (*MetricsSupervisor)(nil)

// NewMetricsSupervisor creates and registers the fiber collectors.
// Registering twice on the same registry shares the existing collectors.
func NewMetricsSupervisor(namespace string, reg prom.Registerer, opts SupervisorOptions) (*MetricsSupervisor, error) {
	if namespace == "" {
		namespace = "fiber"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.LifetimeBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	started := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fibers_started_total",
		Help:      "Total number of fibers started.",
	})
	ended := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fibers_ended_total",
		Help:      "Total number of fibers ended, by outcome.",
	}, []string{"outcome"})
	active := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "fibers_active",
		Help:      "Number of fibers started and not yet ended.",
	})
	lifetime := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "fiber_lifetime_seconds",
		Help:      "Fiber lifetime from identity assignment to end, in seconds.",
		Buckets:   buckets,
	})

	var err error
	if started, err = registerCollector(reg, started); err != nil {
		return nil, err
	}
	if ended, err = registerCollector(reg, ended); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if lifetime, err = registerCollector(reg, lifetime); err != nil {
		return nil, err
	}

	return &MetricsSupervisor{
		started:  started,
		ended:    ended,
		active:   active,
		lifetime: lifetime,
	}, nil
}

// OnStart counts child as started and active.
func (m *MetricsSupervisor) OnStart(_ dscope.Scope, _ any, _ fiber.FiberID, child fiber.Handle) {
	if m == nil || !child.Flags().IsEnabled(fiber.RuntimeMetrics) {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

// OnEnd counts the fiber's outcome and observes its lifetime.
func (m *MetricsSupervisor) OnEnd(exit fiber.Exit[any], f fiber.Handle) {
	if m == nil || !f.Flags().IsEnabled(fiber.RuntimeMetrics) {
		return
	}
	m.active.Dec()
	m.ended.WithLabelValues(Outcome(exit)).Inc()
	started := time.UnixMilli(f.ID().StartMillis)
	m.lifetime.Observe(max(time.Since(started), 0).Seconds())
}

// Outcome classifies exit for the outcome label.
func Outcome(exit fiber.Exit[any]) string {
	if exit.IsSuccess() {
		return OutcomeSuccess
	}
	cause := exit.Cause()
	switch {
	case fiber.IsDie(cause):
		return OutcomeDefect
	case fiber.IsFailure(cause):
		return OutcomeFailure
	case fiber.IsInterrupted(cause):
		return OutcomeInterrupted
	}
	return OutcomeFailure
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
