package metrics

import (
	"sync"

	"notifyq/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records delivery outcomes per (queue, job type). It subscribes
// to queue events through the runtime's bus; Close must run before queues
// and workers shut down so nothing publishes into a torn-down collector.
type Collector struct {
	success     *prometheus.CounterVec
	failure     *prometheus.CounterVec
	stalled     *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	lastLatency *prometheus.GaugeVec
	rateLimited *prometheus.CounterVec
	enqueueFail prometheus.Counter

	mu      sync.Mutex
	cancels []func()
	wg      sync.WaitGroup
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		success: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyq_jobs_completed_total",
			Help: "Jobs completed successfully.",
		}, []string{"queue", "job_type"}),
		failure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyq_jobs_failed_total",
			Help: "Job attempts that failed.",
		}, []string{"queue", "job_type"}),
		stalled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyq_jobs_stalled_total",
			Help: "Jobs observed as stalled and re-leased.",
		}, []string{"queue"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notifyq_job_duration_seconds",
			Help:    "Job processing latency from lease to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "job_type"}),
		lastLatency: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notifyq_job_last_duration_seconds",
			Help: "Latency of the most recent processed job.",
		}, []string{"queue", "job_type"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyq_rate_limited_total",
			Help: "Delivery attempts denied by the provider rate limiter.",
		}, []string{"provider_id"}),
		enqueueFail: f.NewCounter(prometheus.CounterOpts{
			Name: "notifyq_dispatch_enqueue_failures_total",
			Help: "Queued-mode dispatches whose enqueue failed and was swallowed.",
		}),
	}
}

// Attach subscribes the collector to a queue event bus.
func (c *Collector) Attach(bus ports.EventBus) {
	ch, cancel := bus.Subscribe()

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ev := range ch {
			c.record(ev)
		}
	}()
}

func (c *Collector) record(ev ports.JobEvent) {
	switch ev.Kind {
	case ports.EventCompleted:
		c.success.WithLabelValues(ev.QueueName, ev.JobType).Inc()
		c.latency.WithLabelValues(ev.QueueName, ev.JobType).Observe(ev.Latency.Seconds())
		c.lastLatency.WithLabelValues(ev.QueueName, ev.JobType).Set(ev.Latency.Seconds())
	case ports.EventFailed:
		c.failure.WithLabelValues(ev.QueueName, ev.JobType).Inc()
	case ports.EventStalled:
		// Stalled is logged and counted only; re-leasing is the worker
		// runtime's concern, not a retry decision.
		c.stalled.WithLabelValues(ev.QueueName).Inc()
	}
}

func (c *Collector) RecordRateLimited(providerID string) {
	c.rateLimited.WithLabelValues(providerID).Inc()
}

func (c *Collector) RecordEnqueueFailure() {
	c.enqueueFail.Inc()
}

// Close cancels every subscription and waits for in-flight events to drain.
func (c *Collector) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.wg.Wait()
}
