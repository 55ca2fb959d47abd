package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const DefaultMeasureWindow = 30 * time.Minute

var errMissingBody = errors.New("response has no body")

type measureResponse struct {
	Body   json.RawMessage `json:"body"`
	Status string          `json:"status"`
}

type measureEntry struct {
	series    Series
	fetchedAt time.Time
}

// MeasurementFetcher fetches the recent rain series of a module. Each
// (device, module) pair has its own cache slot.
type MeasurementFetcher struct {
	client     *Client
	auth       TokenSource
	staleAfter time.Duration
	window     time.Duration
	logger     *zap.Logger
	now        func() time.Time

	cache map[string]measureEntry
}

// NewMeasurementFetcher returns a fetcher. Non-positive durations fall back to
// the defaults.
func NewMeasurementFetcher(client *Client, auth TokenSource, staleAfter, window time.Duration, logger *zap.Logger) *MeasurementFetcher {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if window <= 0 {
		window = DefaultMeasureWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeasurementFetcher{
		client:     client,
		auth:       auth,
		staleAfter: staleAfter,
		window:     window,
		logger:     logger.Named("measure"),
		now:        time.Now,
		cache:      make(map[string]measureEntry),
	}
}

// Fetch returns the rain series of moduleID on deviceID for the configured
// window.
func (f *MeasurementFetcher) Fetch(ctx context.Context, deviceID, moduleID string) (Series, error) {
	key := deviceID + "/" + moduleID
	now := f.now()
	if e, ok := f.cache[key]; ok && now.Sub(e.fetchedAt) <= f.staleAfter {
		return e.series, nil
	}

	token, err := f.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("device_id", deviceID)
	params.Set("module_id", moduleID)
	params.Set("scale", "max")
	params.Set("type", "rain")
	params.Set("date_begin", strconv.FormatInt(now.Add(-f.window).Unix(), 10))
	params.Set("optimize", "false")
	params.Set("real_time", "true")

	var resp measureResponse
	if err := f.client.Post(ctx, measurePath, params, bearer(token), &resp); err != nil {
		if errors.Is(err, ErrTokenRejected) {
			f.auth.Invalidate()
		}
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, protocolError("post "+measurePath, errMissingBody)
	}

	series, err := decodeSeries(resp.Body)
	if err != nil {
		return nil, protocolError("post "+measurePath, err)
	}

	f.cache[key] = measureEntry{series: series, fetchedAt: now}
	f.logger.Debug("measurements refreshed",
		zap.String("device", deviceID),
		zap.String("module", moduleID),
		zap.Int("samples", len(series)))
	return series, nil
}
