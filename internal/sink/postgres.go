package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/driver"
)

const createObservations = `CREATE TABLE IF NOT EXISTS netatmo_observations (
    packet_id uuid NOT NULL,
    ts timestamptz NOT NULL,
    name text NOT NULL,
    value double precision NOT NULL,
    units text NOT NULL,
    PRIMARY KEY (packet_id, name)
)`

const insertObservation = `INSERT INTO netatmo_observations (packet_id, ts, name, value, units)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (packet_id, name) DO UPDATE
SET value = EXCLUDED.value,
    ts = EXCLUDED.ts`

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres stores one row per observation.
type Postgres struct {
	pool   *pgxpool.Pool
	db     batchSender
	logger *zap.Logger
}

// NewPostgres connects to dsn and creates the observations table.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createObservations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, db: pool, logger: logger.Named("postgres")}, nil
}

// Write inserts all observations of pkt in one batch.
func (p *Postgres) Write(ctx context.Context, pkt driver.Packet) error {
	names := observationNames(pkt)
	if len(names) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(insertObservation, pkt.ID, pkt.DateTime, name, pkt.Values[name], pkt.Units)
	}

	res := p.db.SendBatch(ctx, batch)
	defer res.Close()

	for range names {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("postgres: insert packet %s: %w", pkt.ID, err)
		}
	}
	p.logger.Debug("stored packet", zap.String("id", pkt.ID), zap.Int("rows", len(names)))
	return nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func observationNames(pkt driver.Packet) []string {
	names := make([]string, 0, len(pkt.Values))
	for name := range pkt.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
