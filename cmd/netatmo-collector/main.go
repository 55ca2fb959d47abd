package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/netatmo-collector/internal/api/http"
	"github.com/i474232898/netatmo-collector/internal/collector"
	"github.com/i474232898/netatmo-collector/internal/config"
	"github.com/i474232898/netatmo-collector/internal/driver"
	"github.com/i474232898/netatmo-collector/internal/logging"
	"github.com/i474232898/netatmo-collector/internal/netatmo"
	"github.com/i474232898/netatmo-collector/internal/scheduler"
	"github.com/i474232898/netatmo-collector/internal/sink"
	"github.com/i474232898/netatmo-collector/internal/store"
)

const serviceName = "netatmo-collector"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	debug := flag.Bool("debug", false, "log at debug level")
	getStnData := flag.Bool("get-stn-data", false, "fetch station data once and print the flattened record")
	getJSONData := flag.Bool("get-json-data", false, "fetch station data once and print it as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *getStnData || *getJSONData {
		if err := printStationData(ctx, cfg, *getJSONData, log); err != nil {
			log.Fatal("failed to get station data", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("collector stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) error {
	var coll collector.Collector
	switch cfg.Mode {
	case config.ModeSniff:
		coll = collector.NewSnifferCollector(cfg.SniffHost, cfg.SniffPort, log)
	default:
		coll = collector.NewCloudCollector(cloudConfig(cfg), log)
	}

	// In-memory store with configured retention, also serving the API.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge.Std())
	sinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	sinks = append([]driver.Sink{memStore}, sinks...)

	drv := driver.New(coll, driver.SensorMap(cfg.SensorMap), sinks, log)
	defer drv.Close()

	if err := coll.Startup(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer coll.Shutdown()

	var app *fiber.App
	if cfg.HTTPAddr != "" {
		app = newApp(memStore)
		go func() {
			if err := app.Listen(cfg.HTTPAddr); err != nil {
				log.Error("fiber server stopped", zap.Error(err))
			}
		}()
	}

	log.Info("collector running", zap.String("mode", cfg.Mode), zap.Int("sinks", len(sinks)))
	drv.Run(ctx)

	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}
	return nil
}

func cloudConfig(cfg *config.AppConfig) collector.CloudConfig {
	return collector.CloudConfig{
		Credentials: netatmo.Credentials{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
		TokensFile:   cfg.TokensFile,
		BaseURL:      cfg.APIBaseURL,
		HTTPTimeout:  cfg.HTTPTimeout.Std(),
		MaxBodyBytes: cfg.MaxResponseBytes,
		StaleAfter:   cfg.StaleAfter.Std(),
		MeasureSpan:  cfg.MeasureWindow.Std(),
		QueueSize:    collector.DefaultQueueSize,
		Tick:         scheduler.DefaultTick,
		Poll: collector.PollConfig{
			Interval:  cfg.PollInterval.Std(),
			MaxTries:  cfg.MaxTries,
			RetryWait: cfg.RetryWait.Std(),
			DeviceID:  cfg.DeviceID,
		},
	}
}

// openSinks connects every configured external sink. A sink that cannot
// connect at startup is fatal.
func openSinks(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) ([]driver.Sink, error) {
	var sinks []driver.Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if cfg.DatabaseURL != "" {
		pg, err := sink.NewPostgres(ctx, cfg.DatabaseURL, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, pg)
	}
	if cfg.RedisAddr != "" {
		rd, err := sink.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTTL.Std(), log)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, rd)
	}
	if cfg.InfluxAddr != "" {
		in, err := sink.NewInflux(sink.InfluxConfig{
			Addr:        cfg.InfluxAddr,
			Username:    cfg.InfluxUser,
			Password:    cfg.InfluxPassword,
			Database:    cfg.InfluxDB,
			Measurement: cfg.InfluxMeasurement,
		}, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, in)
	}
	return sinks, nil
}

func newApp(packets httpapi.PacketReader) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	httpapi.RegisterRoutes(app, packets)
	return app
}

// printStationData fetches one snapshot and prints it, either flattened and
// converted or as the JSON the cloud returned.
func printStationData(ctx context.Context, cfg *config.AppConfig, asJSON bool, log *zap.Logger) error {
	client := netatmo.NewClient(netatmo.ClientConfig{
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout.Std()},
		BaseURL:      cfg.APIBaseURL,
		MaxBodyBytes: cfg.MaxResponseBytes,
	}, log)
	auth := netatmo.NewAuthenticator(client, netatmo.NewTokenStore(cfg.TokensFile), netatmo.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}, log)
	fetcher := netatmo.NewStationDataFetcher(client, auth, cfg.StaleAfter.Std(), log)

	data, err := fetcher.Fetch(ctx, cfg.DeviceID)
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	record, _ := netatmo.NewReconciler(log).Flatten(data)
	labels := make([]string, 0, len(record))
	for label := range record {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("%s: %v\n", label, record[label])
	}
	return nil
}
