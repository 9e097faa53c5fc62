package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Collector accumulates in-process counters and dumps them to the log
// on a fixed interval. Stop is safe to call more than once.
type Collector struct {
	Mutations         atomic.Int64
	BroadcastsSent    atomic.Int64
	BroadcastsDropped atomic.Int64
	FlushSuccesses    atomic.Int64
	FlushFailures     atomic.Int64
	FlushRetries      atomic.Int64
	SweepsRun         atomic.Int64
	SessionsAbandoned atomic.Int64
	SessionsFinished  atomic.Int64

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector that logs a snapshot every interval.
// An interval of zero disables the periodic dump.
func NewCollector(interval time.Duration) *Collector {
	c := &Collector{stopChan: make(chan struct{})}
	if interval > 0 {
		c.ticker = time.NewTicker(interval)
		go c.run()
	}
	return c
}

func (c *Collector) run() {
	for {
		select {
		case <-c.ticker.C:
			c.dump()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) dump() {
	log.Info().
		Int64("mutations", c.Mutations.Load()).
		Int64("broadcasts_sent", c.BroadcastsSent.Load()).
		Int64("broadcasts_dropped", c.BroadcastsDropped.Load()).
		Int64("flush_ok", c.FlushSuccesses.Load()).
		Int64("flush_failed", c.FlushFailures.Load()).
		Int64("flush_retries", c.FlushRetries.Load()).
		Int64("sweeps", c.SweepsRun.Load()).
		Int64("abandoned", c.SessionsAbandoned.Load()).
		Int64("finished", c.SessionsFinished.Load()).
		Msg("telemetry snapshot")
}

// Stop cancels the periodic dump and writes one final snapshot.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.ticker != nil {
			c.ticker.Stop()
		}
		close(c.stopChan)
		c.dump()
	})
}
