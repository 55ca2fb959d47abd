package sink

import (
	"context"
	"fmt"
	"time"

	influx "github.com/influxdata/influxdb/client/v2"
	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/driver"
)

// InfluxConfig selects the server and destination of written points.
type InfluxConfig struct {
	Addr        string
	Username    string
	Password    string
	Database    string
	Measurement string
}

// Influx writes each packet as one point.
type Influx struct {
	client      influx.Client
	database    string
	measurement string
	logger      *zap.Logger
}

// NewInflux connects to the server and pings it.
func NewInflux(cfg InfluxConfig, logger *zap.Logger) (*Influx, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("influx: client: %w", err)
	}
	if _, _, err := c.Ping(time.Second); err != nil {
		c.Close()
		return nil, fmt.Errorf("influx: ping: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Influx{
		client:      c,
		database:    cfg.Database,
		measurement: cfg.Measurement,
		logger:      logger.Named("influx"),
	}, nil
}

func (i *Influx) Write(_ context.Context, pkt driver.Packet) error {
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  i.database,
		Precision: "s",
	})
	if err != nil {
		return err
	}

	pt, err := point(i.measurement, pkt)
	if err != nil {
		return err
	}
	bp.AddPoint(pt)

	if err := i.client.Write(bp); err != nil {
		return fmt.Errorf("influx: write: %w", err)
	}
	return nil
}

func (i *Influx) Close() {
	if err := i.client.Close(); err != nil {
		i.logger.Warn("close failed", zap.Error(err))
	}
}

func point(measurement string, pkt driver.Packet) (*influx.Point, error) {
	fields := make(map[string]interface{}, len(pkt.Values))
	for name, v := range pkt.Values {
		fields[name] = v
	}
	tags := map[string]string{"units": pkt.Units}
	return influx.NewPoint(measurement, tags, fields, pkt.DateTime)
}
