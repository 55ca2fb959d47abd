package netatmo

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakeCloud is a scripted cloud API. Handlers are keyed by path.
type fakeCloud struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
	forms    map[string][]map[string]string
	headers  map[string][]http.Header
}

func newFakeCloud(t *testing.T) (*fakeCloud, *httptest.Server) {
	t.Helper()
	f := &fakeCloud{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
		forms:    make(map[string][]map[string]string),
		headers:  make(map[string][]http.Header),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.forms[r.URL.Path] = append(f.forms[r.URL.Path], form)
		f.headers[r.URL.Path] = append(f.headers[r.URL.Path], r.Header.Clone())
		h := f.handlers[r.URL.Path]
		f.mu.Unlock()

		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCloud) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[path] = h
	f.mu.Unlock()
}

func (f *fakeCloud) respond(path string, status int, body string) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func (f *fakeCloud) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeCloud) lastForm(path string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	forms := f.forms[path]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func (f *fakeCloud) lastHeader(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.headers[path]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server, maxBody int64) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		BaseURL:      srv.URL,
		MaxBodyBytes: maxBody,
	}, zaptest.NewLogger(t))
}

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
