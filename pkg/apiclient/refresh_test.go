package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sendConcurrently(client *Client, requestCount int) (*sync.WaitGroup, chan error) {
	var waitGroup sync.WaitGroup
	results := make(chan error, requestCount)
	for index := 0; index < requestCount; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			_, err := client.Send(context.Background(), Request{Path: fmt.Sprintf("/dashboard/%d", index)})
			results <- err
		}(index)
	}
	return &waitGroup, results
}

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	backend := newFakeBackend(t, "fresh", "fresh", withRefreshGate(gate))
	client, store, metrics := newTestClient(t, backend, 5*time.Second)
	require.NoError(t, client.SignIn(context.Background(), "stale"))

	const requestCount = 8
	waitGroup, results := sendConcurrently(client, requestCount)

	require.Eventually(t, func() bool {
		return client.Coordinator().State() == StateRefreshing && client.Coordinator().QueueDepth() == requestCount-1
	}, 5*time.Second, 10*time.Millisecond)
	close(gate)

	waitGroup.Wait()
	close(results)
	for err := range results {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), backend.refreshCalls.Load())
	require.Equal(t, StateIdle, client.Coordinator().State())
	require.Zero(t, client.Coordinator().QueueDepth())

	credential, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", credential)

	var staleCount, freshCount int
	for _, authorization := range backend.recordedAuthorizations() {
		switch authorization {
		case "Bearer stale":
			staleCount++
		case "Bearer fresh":
			freshCount++
		default:
			t.Fatalf("unexpected authorization header %q", authorization)
		}
	}
	require.Equal(t, requestCount, staleCount)
	require.Equal(t, requestCount, freshCount, "every request must be replayed with the renewed credential")
	require.Equal(t, int64(requestCount-1), metrics.Count(MetricRefreshQueued))
	require.Equal(t, int64(requestCount), metrics.Count(MetricRequestReplayed))
	require.Equal(t, int64(1), metrics.Count(MetricRefreshSuccess))
	require.Equal(t, map[string]int64{
		MetricRefreshStarted:  1,
		MetricRefreshSuccess:  1,
		MetricRefreshQueued:   int64(requestCount - 1),
		MetricRequestReplayed: int64(requestCount),
	}, metrics.Snapshot())
}

func TestFailedRefreshRejectsQueueAndClearsStore(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	backend := newFakeBackend(t, "fresh", "fresh", withRefreshGate(gate), withRefreshStatus(http.StatusUnauthorized))
	client, store, metrics := newTestClient(t, backend, 5*time.Second)
	require.NoError(t, client.SignIn(context.Background(), "stale"))

	var signOutHooks atomic.Int32
	client.OnSignOut(func() { signOutHooks.Add(1) })

	const requestCount = 6
	waitGroup, results := sendConcurrently(client, requestCount)

	require.Eventually(t, func() bool {
		return client.Coordinator().QueueDepth() == requestCount-1
	}, 5*time.Second, 10*time.Millisecond)
	close(gate)

	waitGroup.Wait()
	close(results)
	for err := range results {
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrAuthorization), "expected ErrAuthorization, got %v", err)
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	}

	require.Equal(t, int32(1), backend.refreshCalls.Load())
	require.Equal(t, StateIdle, client.Coordinator().State())
	credential, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Empty(t, credential)
	require.Equal(t, int32(1), signOutHooks.Load())
	require.Equal(t, int64(1), metrics.Count(MetricRefreshFailure))
	require.Zero(t, metrics.Count(MetricRequestReplayed))
}

func TestReplayedRequestIsNotRetriedTwice(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t, "fresh", "renewed", withRejectAll())
	client, _, _ := newTestClient(t, backend, 5*time.Second)
	require.NoError(t, client.SignIn(context.Background(), "stale"))

	response, err := client.Send(context.Background(), Request{Path: "/dashboard"})
	require.True(t, errors.Is(err, ErrAuthorization), "expected ErrAuthorization, got %v", err)
	require.NotNil(t, response)
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	require.Equal(t, int32(1), backend.refreshCalls.Load())
	require.Equal(t, []string{"Bearer stale", "Bearer renewed"}, backend.recordedAuthorizations())
	require.Equal(t, StateIdle, client.Coordinator().State())
}

func TestRefreshWithoutAccessTokenIsFailure(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend(t, "fresh", "")
	client, store, _ := newTestClient(t, backend, 5*time.Second)
	require.NoError(t, client.SignIn(context.Background(), "stale"))

	_, err := client.Send(context.Background(), Request{Path: "/dashboard"})
	require.True(t, errors.Is(err, ErrAuthorization), "expected ErrAuthorization, got %v", err)
	require.True(t, errors.Is(err, ErrRefreshNoCredential), "expected ErrRefreshNoCredential, got %v", err)

	credential, getErr := store.Get(context.Background())
	require.NoError(t, getErr)
	require.Empty(t, credential)
}

func newTestCoordinator(t *testing.T, store CredentialStore, refresher Refresher) *Coordinator {
	t.Helper()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Credentials: store,
		Refresher:   refresher,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return coordinator
}

func TestNewCoordinatorValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := NewCoordinator(CoordinatorConfig{Refresher: RefresherFunc(func(context.Context) (string, error) { return "", nil })})
	require.True(t, errors.Is(err, ErrMissingCredentialStore))
	_, err = NewCoordinator(CoordinatorConfig{Credentials: NewMemoryCredentialStore()})
	require.True(t, errors.Is(err, ErrMissingRefresher))
}

func TestRenewReturnsNewerCredentialWithoutRefreshing(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(context.Background(), "current"))

	var refreshCalls atomic.Int32
	coordinator := newTestCoordinator(t, store, RefresherFunc(func(context.Context) (string, error) {
		refreshCalls.Add(1)
		return "unexpected", nil
	}))

	credential, err := coordinator.Renew(context.Background(), "previous")
	require.NoError(t, err)
	require.Equal(t, "current", credential)
	require.Zero(t, refreshCalls.Load())
}

func TestSignOutDuringRefreshDiscardsRenewal(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(context.Background(), "stale"))

	gate := make(chan struct{})
	coordinator := newTestCoordinator(t, store, RefresherFunc(func(context.Context) (string, error) {
		<-gate
		return "renewed", nil
	}))

	renewResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Renew(context.Background(), "stale")
		renewResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.State() == StateRefreshing }, time.Second, 5*time.Millisecond)

	require.NoError(t, coordinator.SignOut(context.Background()))
	close(gate)

	err := <-renewResult
	require.True(t, errors.Is(err, ErrSignedOut), "expected ErrSignedOut, got %v", err)
	credential, getErr := store.Get(context.Background())
	require.NoError(t, getErr)
	require.Empty(t, credential)
	require.Equal(t, StateIdle, coordinator.State())
}

func TestSignInDuringRefreshSupersedesRenewal(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		refreshErr error
	}{
		{name: "renewal succeeds", refreshErr: nil},
		{name: "renewal fails", refreshErr: errors.New("refresh denied")},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			store := NewMemoryCredentialStore()
			require.NoError(t, store.Set(context.Background(), "stale"))

			var signOutHooks atomic.Int32
			gate := make(chan struct{})
			coordinator := newTestCoordinator(t, store, RefresherFunc(func(context.Context) (string, error) {
				<-gate
				if testCase.refreshErr != nil {
					return "", testCase.refreshErr
				}
				return "old-session-renewed", nil
			}))
			coordinator.OnSignOut(func() { signOutHooks.Add(1) })

			triggerResult := make(chan refreshOutcome, 1)
			go func() {
				credential, err := coordinator.Renew(context.Background(), "stale")
				triggerResult <- refreshOutcome{credential: credential, err: err}
			}()
			require.Eventually(t, func() bool { return coordinator.State() == StateRefreshing }, time.Second, 5*time.Millisecond)

			queuedResult := make(chan refreshOutcome, 1)
			go func() {
				credential, err := coordinator.Renew(context.Background(), "stale")
				queuedResult <- refreshOutcome{credential: credential, err: err}
			}()
			require.Eventually(t, func() bool { return coordinator.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

			require.NoError(t, coordinator.SignIn(context.Background(), "new-session"))
			close(gate)

			for _, results := range []chan refreshOutcome{triggerResult, queuedResult} {
				outcome := <-results
				require.NoError(t, outcome.err)
				require.Equal(t, "new-session", outcome.credential)
			}
			credential, getErr := store.Get(context.Background())
			require.NoError(t, getErr)
			require.Equal(t, "new-session", credential)
			require.Zero(t, signOutHooks.Load())
			require.Equal(t, StateIdle, coordinator.State())
		})
	}
}

func TestSignOutAfterSignInDuringRefreshStillSignsOut(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(context.Background(), "stale"))

	gate := make(chan struct{})
	coordinator := newTestCoordinator(t, store, RefresherFunc(func(context.Context) (string, error) {
		<-gate
		return "renewed", nil
	}))

	renewResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Renew(context.Background(), "stale")
		renewResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.State() == StateRefreshing }, time.Second, 5*time.Millisecond)

	require.NoError(t, coordinator.SignIn(context.Background(), "new-session"))
	require.NoError(t, coordinator.SignOut(context.Background()))
	close(gate)

	require.True(t, errors.Is(<-renewResult, ErrSignedOut))
	credential, getErr := store.Get(context.Background())
	require.NoError(t, getErr)
	require.Empty(t, credential)
}

func TestQueuedCallerCancellationDoesNotStallDrain(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(context.Background(), "stale"))

	gate := make(chan struct{})
	coordinator := newTestCoordinator(t, store, RefresherFunc(func(context.Context) (string, error) {
		<-gate
		return "renewed", nil
	}))

	triggerResult := make(chan string, 1)
	go func() {
		credential, _ := coordinator.Renew(context.Background(), "stale")
		triggerResult <- credential
	}()
	require.Eventually(t, func() bool { return coordinator.State() == StateRefreshing }, time.Second, 5*time.Millisecond)

	waiterContext, cancelWaiter := context.WithCancel(context.Background())
	waiterResult := make(chan error, 1)
	go func() {
		_, err := coordinator.Renew(waiterContext, "stale")
		waiterResult <- err
	}()
	require.Eventually(t, func() bool { return coordinator.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	cancelWaiter()
	require.True(t, errors.Is(<-waiterResult, context.Canceled))

	close(gate)
	require.Equal(t, "renewed", <-triggerResult)
	require.Equal(t, StateIdle, coordinator.State())
}

func TestRefreshSurvivesTriggerCancellation(t *testing.T) {
	t.Parallel()
	store := NewMemoryCredentialStore()
	require.NoError(t, store.Set(context.Background(), "stale"))

	coordinator := newTestCoordinator(t, store, RefresherFunc(func(ctx context.Context) (string, error) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "renewed", nil
	}))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	credential, err := coordinator.Renew(canceled, "stale")
	require.NoError(t, err)
	require.Equal(t, "renewed", credential)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "refreshing", StateRefreshing.String())
}
