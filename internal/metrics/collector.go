package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is the handler state exported as gauges
type Snapshot struct {
	TreeEntities   int
	Sensors        int
	FRURecordSets  int
	LocalRecords   int
	RemoteRecords  int
	HostFirmwareUp bool
}

// StateSource provides handler state for metrics collection
type StateSource interface {
	MetricsSnapshot(ctx context.Context) (Snapshot, error)
}

// Collector periodically updates gauge metrics from handler state
type Collector struct {
	source   StateSource
	interval time.Duration
}

// NewCollector creates a new metrics collector
func NewCollector(source StateSource, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{source: source, interval: interval}
}

// Start collects until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	snap, err := c.source.MetricsSnapshot(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Skipping metrics collection")
		return
	}
	Apply(snap)
}

// Apply sets the gauges from snap
func Apply(snap Snapshot) {
	TreeEntities.Set(float64(snap.TreeEntities))
	SensorsIndexed.Set(float64(snap.Sensors))
	FRURecordSetsIndexed.Set(float64(snap.FRURecordSets))
	RepoRecords.WithLabelValues("local").Set(float64(snap.LocalRecords))
	RepoRecords.WithLabelValues("remote").Set(float64(snap.RemoteRecords))
	if snap.HostFirmwareUp {
		HostUp.Set(1)
	} else {
		HostUp.Set(0)
	}
}
