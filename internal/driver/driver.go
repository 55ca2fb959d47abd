package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/collector"
)

const (
	// UnitsMetric tags packets built from converted records.
	UnitsMetric = "METRIC"

	DefaultGetTimeout = 10 * time.Second
)

// Packet is one observation set keyed by observation name.
type Packet struct {
	ID       string             `json:"id"`
	DateTime time.Time          `json:"dateTime"`
	Units    string             `json:"usUnits"`
	Values   map[string]float64 `json:"values"`
}

// Sink receives every packet the driver builds.
type Sink interface {
	Write(ctx context.Context, pkt Packet) error
	Close()
}

// Driver turns queued records into packets and hands them to sinks.
type Driver struct {
	source     collector.Collector
	sensorMap  map[string]string
	sinks      []Sink
	getTimeout time.Duration
	logger     *zap.Logger
}

// New creates a driver reading from source. sensorMap is used as given.
func New(source collector.Collector, sensorMap map[string]string, sinks []Sink, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("driver")
	logger.Info("sensor map", zap.Any("map", sensorMap))
	return &Driver{
		source:     source,
		sensorMap:  sensorMap,
		sinks:      sinks,
		getTimeout: DefaultGetTimeout,
		logger:     logger,
	}
}

// Run consumes records until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		rec, ok := d.source.Queue().Get(ctx, d.getTimeout)
		if !ok {
			continue
		}
		d.logger.Debug("record", zap.Any("data", rec.Data))

		pkt := d.ToPacket(rec)
		if len(pkt.Values) == 0 {
			continue
		}
		d.logger.Debug("packet", zap.Any("packet", pkt))
		d.emit(ctx, pkt)
	}
}

func (d *Driver) emit(ctx context.Context, pkt Packet) {
	for _, s := range d.sinks {
		if err := s.Write(ctx, pkt); err != nil {
			d.logger.Error("sink write failed", zap.String("packet", pkt.ID), zap.Error(err))
		}
	}
}

// ToPacket maps a record onto observation names. Non-numeric values are
// left out.
func (d *Driver) ToPacket(rec collector.Record) Packet {
	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		keys = append(keys, k)
	}

	pkt := Packet{
		ID:       rec.ID.String(),
		DateTime: rec.Time.Round(time.Second),
		Units:    UnitsMetric,
		Values:   make(map[string]float64),
	}
	for name, pattern := range d.sensorMap {
		label, ok := FindMatch(pattern, keys)
		if !ok {
			continue
		}
		if v, ok := rec.Data.Float(label); ok {
			pkt.Values[name] = v
		}
	}
	return pkt
}

// Close closes every sink.
func (d *Driver) Close() {
	for _, s := range d.sinks {
		s.Close()
	}
}
