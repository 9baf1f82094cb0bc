package main

import (
	"time"

	"transit-isochrones/internal/messaging"
	"transit-isochrones/internal/metrics"
	"transit-isochrones/internal/schedule"
	"transit-isochrones/internal/worker"
)

// wrapBusMetrics adapts our Collector to the BusMetrics interface.
func wrapBusMetrics(c *metrics.Collector) messaging.BusMetrics {
	if c == nil {
		return nil
	}
	return &busMetrics{c: c}
}

type busMetrics struct{ c *metrics.Collector }

func (p *busMetrics) NATSPublishedInc(kind string)   { p.c.NATSPublished.WithLabelValues(kind).Inc() }
func (p *busMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *busMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *busMetrics) CommandReceivedInc()            { p.c.CommandsReceived.Inc() }
func (p *busMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapWorkerMetrics(c *metrics.Collector) worker.Metrics {
	if c == nil {
		return nil
	}
	return &workerMetrics{c: c}
}

type workerMetrics struct{ c *metrics.Collector }

func (w *workerMetrics) SessionStarted()                { w.c.SessionsStarted.Inc() }
func (w *workerMetrics) StepObserve(d time.Duration)    { w.c.StepDuration.Observe(d.Seconds()) }
func (w *workerMetrics) CommandRejected(reason string)  { w.c.CommandsRejected.WithLabelValues(reason).Inc() }
func (w *workerMetrics) Emitted(vertices int) {
	w.c.Emissions.Inc()
	w.c.EmittedVertices.Add(float64(vertices))
}
func (w *workerMetrics) SessionEnded(state string, elapsed time.Duration, settled, considered int) {
	w.c.SessionsEnded.WithLabelValues(state).Inc()
	w.c.SessionDuration.Observe(elapsed.Seconds())
	w.c.Settled.Add(float64(settled))
	w.c.Considered.Add(float64(considered))
}

func wrapScheduleMetrics(c *metrics.Collector) schedule.Metrics {
	if c == nil {
		return nil
	}
	return &scheduleMetrics{c: c}
}

type scheduleMetrics struct{ c *metrics.Collector }

func (s *scheduleMetrics) CacheHit(kind string)  { s.c.ScheduleLookups.WithLabelValues(kind, "hit").Inc() }
func (s *scheduleMetrics) CacheMiss(kind string) { s.c.ScheduleLookups.WithLabelValues(kind, "miss").Inc() }
func (s *scheduleMetrics) LoadError(kind string) { s.c.ScheduleLoadErrors.WithLabelValues(kind).Inc() }
