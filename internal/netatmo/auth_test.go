package netatmo

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestAuth(t *testing.T, tokenFile string) (*Authenticator, *fakeCloud, *fakeClock) {
	t.Helper()
	cloud, srv := newFakeCloud(t)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	auth := NewAuthenticator(newTestClient(t, srv, 0), NewTokenStore(tokenFile),
		Credentials{ClientID: "id", ClientSecret: "secret"}, zaptest.NewLogger(t))
	auth.now = clock.now
	return auth, cloud, clock
}

func TestAuthenticatorRefreshAndRotate(t *testing.T) {
	path := writeFile(t, `{"refresh_token": "r0"}`)
	auth, cloud, clock := newTestAuth(t, path)

	var n int32
	cloud.handle(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&n, 1)
		fmt.Fprintf(w, `{"access_token":"a%d","refresh_token":"r%d","expire_in":10800}`, i, i)
	})

	token, err := auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "a1" {
		t.Fatalf("expected a1, got %q", token)
	}

	form := cloud.lastForm(tokenPath)
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "r0" ||
		form["client_id"] != "id" || form["client_secret"] != "secret" {
		t.Fatalf("unexpected token request form: %v", form)
	}
	if got := readJSON(t, path)["refresh_token"]; got != "r1" {
		t.Fatalf("expected rotated refresh token r1 on disk, got %v", got)
	}
	if want := clock.t.Add(10800 * time.Second); !auth.Expiry().Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, auth.Expiry())
	}

	// Still valid: no new refresh.
	clock.advance(time.Hour)
	if token, _ := auth.AccessToken(context.Background()); token != "a1" {
		t.Fatalf("expected cached token a1, got %q", token)
	}
	if cloud.count(tokenPath) != 1 {
		t.Fatalf("expected 1 refresh, got %d", cloud.count(tokenPath))
	}

	// Exactly at expiry the token is stale.
	clock.advance(2 * time.Hour)
	token, err = auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "a2" {
		t.Fatalf("expected a2 after expiry, got %q", token)
	}
	if cloud.count(tokenPath) != 2 {
		t.Fatalf("expected exactly one extra refresh, got %d total", cloud.count(tokenPath))
	}
	if form := cloud.lastForm(tokenPath); form["refresh_token"] != "r1" {
		t.Fatalf("expected rotated refresh token to be used, got %v", form)
	}
}

func TestAuthenticatorFailureLeavesStale(t *testing.T) {
	path := writeFile(t, `{"refresh_token": "r0"}`)
	auth, cloud, _ := newTestAuth(t, path)

	cloud.respond(tokenPath, http.StatusBadRequest, `{"error":"invalid_grant"}`)

	_, err := auth.AccessToken(context.Background())
	if KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("auth errors must be retryable")
	}
	if auth.Valid() {
		t.Fatalf("authenticator must stay stale after a failed refresh")
	}
	if got := readJSON(t, path)["refresh_token"]; got != "r0" {
		t.Fatalf("refresh token must not change on failure, got %v", got)
	}

	cloud.respond(tokenPath, http.StatusOK, `{"access_token":"ok","refresh_token":"r1","expire_in":60}`)
	token, err := auth.AccessToken(context.Background())
	if err != nil || token != "ok" {
		t.Fatalf("expected retry to succeed, got %q, %v", token, err)
	}
}

func TestAuthenticatorMissingAccessToken(t *testing.T) {
	auth, cloud, _ := newTestAuth(t, writeFile(t, `{"refresh_token": "r0"}`))
	cloud.respond(tokenPath, http.StatusOK, `{"refresh_token":"r1","expire_in":60}`)

	if _, err := auth.AccessToken(context.Background()); KindOf(err) != KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestAuthenticatorBadTokenFile(t *testing.T) {
	auth, cloud, _ := newTestAuth(t, writeFile(t, `{}`))

	if _, err := auth.AccessToken(context.Background()); KindOf(err) != KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if cloud.count(tokenPath) != 0 {
		t.Fatalf("token endpoint must not be called without a refresh token")
	}
}

func TestAuthenticatorKeepsRotatedTokenWhenPersistFails(t *testing.T) {
	path := writeFile(t, `{"refresh_token": "r0"}`)
	auth, cloud, clock := newTestAuth(t, path)

	var n int32
	cloud.handle(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&n, 1)
		if i == 1 {
			// A non-empty directory in place of the token file makes the
			// rename in Write fail.
			if err := os.Remove(path); err != nil {
				t.Errorf("remove token file: %v", err)
			}
			if err := os.MkdirAll(filepath.Join(path, "x"), 0o700); err != nil {
				t.Errorf("block token file: %v", err)
			}
		}
		fmt.Fprintf(w, `{"access_token":"a%d","refresh_token":"r%d","expire_in":10800}`, i, i)
	})

	token, err := auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "a1" || !auth.Valid() {
		t.Fatalf("expected a committed token a1, got %q valid=%v", token, auth.Valid())
	}

	// Next refresh must use the rotated token held in memory.
	clock.advance(3 * time.Hour)
	token, err = auth.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "a2" {
		t.Fatalf("expected a2, got %q", token)
	}
	if form := cloud.lastForm(tokenPath); form["refresh_token"] != "r1" {
		t.Fatalf("expected in-memory refresh token r1, got %v", form)
	}

	// Once the file is writable again the pending token is persisted
	// without another refresh.
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("unblock token file: %v", err)
	}
	if token, err := auth.AccessToken(context.Background()); err != nil || token != "a2" {
		t.Fatalf("expected cached a2, got %q, %v", token, err)
	}
	if got := readJSON(t, path)["refresh_token"]; got != "r2" {
		t.Fatalf("expected r2 on disk, got %v", got)
	}
	if cloud.count(tokenPath) != 2 {
		t.Fatalf("expected 2 refreshes, got %d", cloud.count(tokenPath))
	}
}

func TestAuthenticatorRefreshFailureWithPendingTokenIsRetryable(t *testing.T) {
	path := writeFile(t, `{"refresh_token": "r0"}`)
	auth, cloud, clock := newTestAuth(t, path)

	cloud.handle(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		os.Remove(path)
		os.MkdirAll(filepath.Join(path, "x"), 0o700)
		fmt.Fprint(w, `{"access_token":"a1","refresh_token":"r1","expire_in":60}`)
	})
	if _, err := auth.AccessToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.advance(time.Minute)
	cloud.respond(tokenPath, http.StatusServiceUnavailable, `busy`)
	_, err := auth.AccessToken(context.Background())
	if KindOf(err) != KindAuth || !Retryable(err) {
		t.Fatalf("expected retryable auth error, got %v", err)
	}
}

func TestAuthenticatorInvalidate(t *testing.T) {
	auth, cloud, _ := newTestAuth(t, writeFile(t, `{"refresh_token": "r0"}`))

	var n int32
	cloud.handle(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		i := atomic.AddInt32(&n, 1)
		fmt.Fprintf(w, `{"access_token":"a%d","refresh_token":"r%d","expire_in":10800}`, i, i)
	})

	if _, err := auth.AccessToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth.Invalidate()
	if auth.Valid() {
		t.Fatalf("expected token to be dropped")
	}
	token, err := auth.AccessToken(context.Background())
	if err != nil || token != "a2" {
		t.Fatalf("expected a fresh token a2, got %q, %v", token, err)
	}
}
