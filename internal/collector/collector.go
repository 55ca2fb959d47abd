package collector

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/netatmo"
	"github.com/i474232898/netatmo-collector/internal/scheduler"
)

// Collector produces records on its queue between Startup and Shutdown.
type Collector interface {
	Startup() error
	Shutdown()
	Queue() *Queue
}

// CloudConfig configures a CloudCollector.
type CloudConfig struct {
	Credentials  netatmo.Credentials
	TokensFile   string
	BaseURL      string
	HTTPTimeout  time.Duration
	MaxBodyBytes int64
	StaleAfter   time.Duration
	MeasureSpan  time.Duration
	QueueSize    int
	Tick         time.Duration
	Poll         PollConfig
}

// CloudCollector polls the cloud API on a background worker.
type CloudCollector struct {
	tokens *netatmo.TokenStore
	loop   *PollLoop
	queue  *Queue
	sched  *scheduler.Scheduler
	tick   time.Duration
	logger *zap.Logger
}

// NewCloudCollector wires the whole cloud pipeline.
func NewCloudCollector(cfg CloudConfig, logger *zap.Logger) *CloudCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cloud")

	client := netatmo.NewClient(netatmo.ClientConfig{
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		BaseURL:      cfg.BaseURL,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, logger)
	tokens := netatmo.NewTokenStore(cfg.TokensFile)
	auth := netatmo.NewAuthenticator(client, tokens, cfg.Credentials, logger)
	stations := netatmo.NewStationDataFetcher(client, auth, cfg.StaleAfter, logger)
	measures := netatmo.NewMeasurementFetcher(client, auth, cfg.StaleAfter, cfg.MeasureSpan, logger)

	queue := NewQueue(cfg.QueueSize)
	loop := NewPollLoop(cfg.Poll, stations, measures, netatmo.NewReconciler(logger), queue, logger)

	return &CloudCollector{
		tokens: tokens,
		loop:   loop,
		queue:  queue,
		tick:   cfg.Tick,
		logger: logger,
	}
}

// Startup checks the token file and starts the worker. A broken token file
// is a configuration error and is not retried.
func (c *CloudCollector) Startup() error {
	if _, err := c.tokens.Read(); err != nil {
		return err
	}
	if c.sched != nil {
		return nil
	}

	c.sched = scheduler.New(c.loop, c.tick, c.logger)
	if err := c.sched.Start(); err != nil {
		c.sched = nil
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

// Shutdown stops the worker and waits for it to exit. Records already on
// the queue stay there.
func (c *CloudCollector) Shutdown() {
	if c.sched == nil {
		return
	}
	c.sched.Stop()
	c.sched = nil
}

// Queue returns the output queue.
func (c *CloudCollector) Queue() *Queue {
	return c.queue
}

// SnifferCollector would decode the station's own uploads on the local
// network. The station encrypts that traffic, so it produces no records.
type SnifferCollector struct {
	addr   string
	queue  *Queue
	logger *zap.Logger
}

// NewSnifferCollector returns a collector bound to host:port.
func NewSnifferCollector(host string, port int, logger *zap.Logger) *SnifferCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnifferCollector{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		queue:  NewQueue(DefaultQueueSize),
		logger: logger.Named("sniff"),
	}
}

func (s *SnifferCollector) Startup() error {
	s.logger.Warn("packet capture cannot decode station traffic; no records will be produced", zap.String("addr", s.addr))
	return nil
}

func (s *SnifferCollector) Shutdown() {}

func (s *SnifferCollector) Queue() *Queue {
	return s.queue
}
