package netatmo

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Credentials identify the application to the token endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authenticator owns the access token and refreshes it through the token
// endpoint whenever it is missing or expired. Not safe for concurrent use.
type Authenticator struct {
	client *Client
	store  *TokenStore
	creds  Credentials
	logger *zap.Logger
	now    func() time.Time

	accessToken string
	expiry      time.Time
	// pending is a rotated refresh token not yet written to the token file.
	pending string
}

// NewAuthenticator wires an authenticator to its client and token file.
func NewAuthenticator(client *Client, store *TokenStore, creds Credentials, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		client: client,
		store:  store,
		creds:  creds,
		logger: logger.Named("auth"),
		now:    time.Now,
	}
}

// Valid reports whether the cached access token can be used right now.
func (a *Authenticator) Valid() bool {
	return a.accessToken != "" && a.now().Before(a.expiry)
}

// Expiry returns the expiry of the cached access token.
func (a *Authenticator) Expiry() time.Time {
	return a.expiry
}

// AccessToken returns a token that has not expired, refreshing first if
// needed. A failed refresh leaves the authenticator stale. A rotated refresh
// token that could not be persisted is kept in memory, used for the next
// refresh and written again on every call until the write succeeds.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	a.flushPending()
	if a.Valid() {
		return a.accessToken, nil
	}

	refreshToken := a.pending
	if refreshToken == "" {
		stored, err := a.store.Read()
		if err != nil {
			return "", err
		}
		refreshToken = stored
	}

	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", refreshToken)
	params.Set("client_id", a.creds.ClientID)
	params.Set("client_secret", a.creds.ClientSecret)

	var resp tokenResponse
	if err := a.client.Post(ctx, tokenPath, params, nil, &resp); err != nil {
		return "", authError("refresh token", err)
	}
	if resp.AccessToken == "" {
		return "", authError("refresh token", errors.New("token endpoint returned no access_token"))
	}

	lifetime := resp.ExpireIn
	if lifetime == 0 {
		lifetime = resp.ExpiresIn
	}
	issuedAt := a.now()

	if resp.RefreshToken != "" {
		a.pending = resp.RefreshToken
		a.flushPending()
	} else {
		a.logger.Warn("token endpoint did not rotate the refresh token")
	}

	a.accessToken = resp.AccessToken
	a.expiry = issuedAt.Add(time.Duration(lifetime) * time.Second)
	a.logger.Info("access token refreshed", zap.Time("expires", a.expiry))
	return a.accessToken, nil
}

// Invalidate drops the cached access token so the next call refreshes.
func (a *Authenticator) Invalidate() {
	if a.accessToken == "" {
		return
	}
	a.accessToken = ""
	a.expiry = time.Time{}
	a.logger.Info("access token rejected by the API, will refresh")
}

func (a *Authenticator) flushPending() {
	if a.pending == "" {
		return
	}
	if err := a.store.Write(a.pending); err != nil {
		a.logger.Error("failed to persist rotated refresh token, keeping it in memory",
			zap.String("file", a.store.Path()),
			zap.Error(err))
		return
	}
	a.pending = ""
}
