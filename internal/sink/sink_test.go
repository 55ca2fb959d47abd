package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	influx "github.com/influxdata/influxdb/client/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/netatmo-collector/internal/driver"
)

func testPacket() driver.Packet {
	return driver.Packet{
		ID:       "6f1c2b7e-4f4b-4f61-9a5e-3c1f0c7d2a10",
		DateTime: time.Unix(1_700_000_000, 0).UTC(),
		Units:    driver.UnitsMetric,
		Values:   map[string]float64{"pressure": 1013, "rain": 0.53, "outTemp": 12.5},
	}
}

type fakeBatchResults struct {
	pgx.BatchResults
	execs  int
	failAt int
	closed bool
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.execs++
	if f.execs == f.failAt {
		return pgconn.CommandTag{}, errors.New("unique violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeBatchResults) Close() error {
	f.closed = true
	return nil
}

type fakeBatchSender struct {
	batch   *pgx.Batch
	results *fakeBatchResults
}

func (f *fakeBatchSender) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return f.results
}

func TestPostgresWriteBatchesObservations(t *testing.T) {
	sender := &fakeBatchSender{results: &fakeBatchResults{}}
	p := &Postgres{db: sender, logger: zaptest.NewLogger(t)}
	pkt := testPacket()

	if err := p.Write(context.Background(), pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.batch.Len() != 3 || sender.results.execs != 3 || !sender.results.closed {
		t.Fatalf("expected 3 queued inserts, got len=%d execs=%d", sender.batch.Len(), sender.results.execs)
	}

	first := sender.batch.QueuedQueries[0]
	if first.SQL != insertObservation {
		t.Fatalf("unexpected sql %q", first.SQL)
	}
	if first.Arguments[0] != pkt.ID || first.Arguments[2] != "outTemp" || first.Arguments[3] != 12.5 {
		t.Fatalf("unexpected arguments %v", first.Arguments)
	}
}

func TestPostgresWriteReportsFailure(t *testing.T) {
	sender := &fakeBatchSender{results: &fakeBatchResults{failAt: 2}}
	p := &Postgres{db: sender, logger: zaptest.NewLogger(t)}

	if err := p.Write(context.Background(), testPacket()); err == nil {
		t.Fatalf("expected error")
	}
	if !sender.results.closed {
		t.Fatalf("batch results must be closed")
	}
}

func TestPostgresSkipsEmptyPacket(t *testing.T) {
	sender := &fakeBatchSender{results: &fakeBatchResults{}}
	p := &Postgres{db: sender, logger: zaptest.NewLogger(t)}
	if err := p.Write(context.Background(), driver.Packet{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.batch != nil {
		t.Fatalf("no batch expected")
	}
}

type fakeSetter struct {
	key   string
	value []byte
	ttl   time.Duration
	err   error
}

func (f *fakeSetter) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.key = key
	f.value, _ = value.([]byte)
	f.ttl = expiration
	return redis.NewStatusResult("OK", f.err)
}

func TestRedisWriteStoresLatest(t *testing.T) {
	kv := &fakeSetter{}
	r := &Redis{kv: kv, ttl: 15 * time.Minute, logger: zaptest.NewLogger(t)}
	pkt := testPacket()

	if err := r.Write(context.Background(), pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv.key != LatestKey || kv.ttl != 15*time.Minute {
		t.Fatalf("unexpected set %s ttl=%v", kv.key, kv.ttl)
	}

	var got driver.Packet
	if err := json.Unmarshal(kv.value, &got); err != nil {
		t.Fatalf("stored value is not a packet: %v", err)
	}
	if got.ID != pkt.ID || got.Values["rain"] != 0.53 || !got.DateTime.Equal(pkt.DateTime) {
		t.Fatalf("unexpected stored packet %+v", got)
	}
}

func TestRedisWriteError(t *testing.T) {
	r := &Redis{kv: &fakeSetter{err: errors.New("READONLY")}, logger: zaptest.NewLogger(t)}
	if err := r.Write(context.Background(), testPacket()); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeInflux struct {
	influx.Client
	written []influx.BatchPoints
}

func (f *fakeInflux) Write(bp influx.BatchPoints) error {
	f.written = append(f.written, bp)
	return nil
}

func (f *fakeInflux) Close() error { return nil }

func TestInfluxWritesOnePointPerPacket(t *testing.T) {
	c := &fakeInflux{}
	i := &Influx{client: c, database: "weather", measurement: "netatmo", logger: zaptest.NewLogger(t)}
	pkt := testPacket()

	if err := i.Write(context.Background(), pkt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.written) != 1 {
		t.Fatalf("expected one batch, got %d", len(c.written))
	}
	bp := c.written[0]
	if bp.Database() != "weather" || bp.Precision() != "s" || len(bp.Points()) != 1 {
		t.Fatalf("unexpected batch %s/%s with %d points", bp.Database(), bp.Precision(), len(bp.Points()))
	}

	pt := bp.Points()[0]
	if pt.Name() != "netatmo" || pt.Tags()["units"] != driver.UnitsMetric || !pt.Time().Equal(pkt.DateTime) {
		t.Fatalf("unexpected point %s", pt.String())
	}
	fields, err := pt.Fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if fields["pressure"] != 1013.0 || fields["rain"] != 0.53 {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestInfluxRejectsEmptyPacket(t *testing.T) {
	i := &Influx{client: &fakeInflux{}, database: "weather", measurement: "netatmo", logger: zaptest.NewLogger(t)}
	if err := i.Write(context.Background(), driver.Packet{DateTime: time.Now()}); err == nil {
		t.Fatalf("expected error for a point without fields")
	}
}
