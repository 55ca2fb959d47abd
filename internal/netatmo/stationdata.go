package netatmo

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const DefaultStaleAfter = 60 * time.Second

// TokenSource supplies bearer tokens. Invalidate is called when the API
// rejects a token it handed out.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

type stationResponse struct {
	Body   *StationData `json:"body"`
	Status string       `json:"status"`
}

// StationDataFetcher fetches the full station snapshot and caches it for
// StaleAfter.
type StationDataFetcher struct {
	client     *Client
	auth       TokenSource
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	cached    *StationData
	fetchedAt time.Time
}

// NewStationDataFetcher returns a fetcher; staleAfter <= 0 means the default.
func NewStationDataFetcher(client *Client, auth TokenSource, staleAfter time.Duration, logger *zap.Logger) *StationDataFetcher {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StationDataFetcher{
		client:     client,
		auth:       auth,
		staleAfter: staleAfter,
		logger:     logger.Named("stations"),
		now:        time.Now,
	}
}

// Fetch returns the station snapshot, optionally limited to deviceID.
func (f *StationDataFetcher) Fetch(ctx context.Context, deviceID string) (*StationData, error) {
	now := f.now()
	if f.cached != nil && now.Sub(f.fetchedAt) <= f.staleAfter {
		return f.cached, nil
	}

	token, err := f.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}

	var resp stationResponse
	if err := f.client.Post(ctx, stationPath, params, bearer(token), &resp); err != nil {
		if errors.Is(err, ErrTokenRejected) {
			f.auth.Invalidate()
		}
		return nil, err
	}
	if resp.Body == nil {
		return nil, protocolError("post "+stationPath, errMissingBody)
	}

	f.cached = resp.Body
	f.fetchedAt = now
	f.logger.Debug("station data refreshed", zap.Int("devices", len(resp.Body.Devices)))
	return f.cached, nil
}
