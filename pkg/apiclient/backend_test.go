package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeBackend authorizes requests carrying its current credential and renews
// that credential on POST /auth/refresh.
type fakeBackend struct {
	server *httptest.Server

	refreshCalls atomic.Int32
	// refreshGate, when set, holds refresh calls until it is closed.
	refreshGate   chan struct{}
	refreshStatus int
	refreshToken  string
	rejectAll     bool

	mutex           sync.Mutex
	validCredential string
	authorizations  []string
}

type backendOption func(*fakeBackend)

func withRefreshGate(gate chan struct{}) backendOption {
	return func(backend *fakeBackend) { backend.refreshGate = gate }
}

func withRefreshStatus(status int) backendOption {
	return func(backend *fakeBackend) { backend.refreshStatus = status }
}

func withRejectAll() backendOption {
	return func(backend *fakeBackend) { backend.rejectAll = true }
}

// newFakeBackend applies options before the server starts so handlers never
// race with test configuration.
func newFakeBackend(t *testing.T, validCredential string, renewedCredential string, options ...backendOption) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{
		validCredential: validCredential,
		refreshStatus:   http.StatusOK,
		refreshToken:    renewedCredential,
	}
	for _, option := range options {
		option(backend)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", backend.handleRefresh)
	mux.HandleFunc("/slow", func(writer http.ResponseWriter, request *http.Request) {
		<-request.Context().Done()
	})
	mux.HandleFunc("/broken", func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/public", func(writer http.ResponseWriter, request *http.Request) {
		backend.record(request)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"public":true}`))
	})
	mux.HandleFunc("/binary", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "image/png")
		writer.Header().Set("X-Seen-Accept", request.Header.Get("Accept"))
		_, _ = writer.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/", backend.handleProtected)
	backend.server = httptest.NewServer(mux)
	t.Cleanup(backend.server.Close)
	return backend
}

func (backend *fakeBackend) handleRefresh(writer http.ResponseWriter, request *http.Request) {
	backend.refreshCalls.Add(1)
	if backend.refreshGate != nil {
		select {
		case <-backend.refreshGate:
		case <-request.Context().Done():
			return
		}
	}
	if backend.refreshStatus != http.StatusOK {
		writer.WriteHeader(backend.refreshStatus)
		return
	}
	backend.mutex.Lock()
	backend.validCredential = backend.refreshToken
	backend.mutex.Unlock()
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(map[string]string{"access_token": backend.refreshToken})
}

func (backend *fakeBackend) handleProtected(writer http.ResponseWriter, request *http.Request) {
	backend.record(request)
	backend.mutex.Lock()
	authorized := !backend.rejectAll && request.Header.Get("Authorization") == "Bearer "+backend.validCredential
	backend.mutex.Unlock()
	if !authorized {
		writer.WriteHeader(http.StatusUnauthorized)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(writer).Encode(map[string]string{"path": request.URL.Path})
}

func (backend *fakeBackend) record(request *http.Request) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.authorizations = append(backend.authorizations, request.Header.Get("Authorization"))
}

func (backend *fakeBackend) recordedAuthorizations() []string {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return append([]string(nil), backend.authorizations...)
}

func newTestClient(t *testing.T, backend *fakeBackend, timeout time.Duration) (*Client, *MemoryCredentialStore, *CounterMetrics) {
	t.Helper()
	store := NewMemoryCredentialStore()
	metrics := NewCounterMetrics()
	client, err := New(Config{
		BaseURL:     backend.server.URL,
		Timeout:     timeout,
		Credentials: store,
		Logger:      zaptest.NewLogger(t),
		Metrics:     metrics,
	})
	require.NoError(t, err)
	return client, store, metrics
}
