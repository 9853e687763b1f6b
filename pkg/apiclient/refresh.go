package apiclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State reports whether the Coordinator has a renewal in flight.
type State int

const (
	// StateIdle means no renewal is underway.
	StateIdle State = iota
	// StateRefreshing means exactly one renewal call is in flight.
	StateRefreshing
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(state))
	}
}

// Refresher exchanges the ambient renewal credential for a new access credential.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh calls the wrapped function.
func (refresherFunc RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return refresherFunc(ctx)
}

type refreshOutcome struct {
	credential string
	err        error
}

// queuedRequest is a suspended caller waiting on the in-flight renewal.
// The outcome channel has one slot so settling never blocks on a caller that gave up.
type queuedRequest struct {
	outcome chan refreshOutcome
}

type pendingRefresh struct {
	startedAt time.Time
	queue     []*queuedRequest
	signedOut bool
	// signedIn holds a credential stored by SignIn after the renewal started.
	// The renewal result is then discarded in its favor.
	signedIn string
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Credentials CredentialStore
	Refresher   Refresher
	Logger      *zap.Logger
	Metrics     MetricsRecorder
}

// Coordinator serializes credential renewal: at most one refresh call is in
// flight, and every caller that fails authorization meanwhile waits for that
// call's outcome instead of starting its own.
type Coordinator struct {
	credentials CredentialStore
	refresher   Refresher
	logger      *zap.Logger
	metrics     MetricsRecorder

	mutex        sync.Mutex // protects the below fields
	pending      *pendingRefresh
	signOutHooks []func()
}

// NewCoordinator constructs an idle Coordinator.
func NewCoordinator(configuration CoordinatorConfig) (*Coordinator, error) {
	if configuration.Credentials == nil {
		return nil, fmt.Errorf("apiclient.coordinator.new: %w", ErrMissingCredentialStore)
	}
	if configuration.Refresher == nil {
		return nil, fmt.Errorf("apiclient.coordinator.new: %w", ErrMissingRefresher)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = nopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}
	return &Coordinator{
		credentials: configuration.Credentials,
		refresher:   configuration.Refresher,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// State returns the current coordinator state.
func (coordinator *Coordinator) State() State {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.pending != nil {
		return StateRefreshing
	}
	return StateIdle
}

// QueueDepth returns the number of callers waiting on the in-flight renewal.
func (coordinator *Coordinator) QueueDepth() int {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.pending == nil {
		return 0
	}
	return len(coordinator.pending.queue)
}

// OnSignOut registers a hook that runs after the credential is cleared, either
// by SignOut or by a failed renewal.
func (coordinator *Coordinator) OnSignOut(hook func()) {
	if hook == nil {
		return
	}
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.signOutHooks = append(coordinator.signOutHooks, hook)
}

// SignIn stores a credential obtained from a sign-in flow. A renewal still in
// flight settles with this credential and leaves the store untouched.
func (coordinator *Coordinator) SignIn(ctx context.Context, credential string) error {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if err := coordinator.credentials.Set(ctx, credential); err != nil {
		return fmt.Errorf("apiclient.sign_in: %w", err)
	}
	if coordinator.pending != nil {
		coordinator.pending.signedIn = credential
		coordinator.pending.signedOut = false
	}
	return nil
}

// SignOut clears the credential. A renewal still in flight settles as a failure.
func (coordinator *Coordinator) SignOut(ctx context.Context) error {
	coordinator.mutex.Lock()
	if coordinator.pending != nil {
		coordinator.pending.signedOut = true
		coordinator.pending.signedIn = ""
	}
	clearErr := coordinator.credentials.Clear(ctx)
	hooks := append([]func(){}, coordinator.signOutHooks...)
	coordinator.mutex.Unlock()

	if clearErr != nil {
		return fmt.Errorf("apiclient.sign_out: %w", clearErr)
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Renew returns the credential a request should be replayed with after it
// failed authorization while carrying staleCredential.
//
// When the store already holds a different credential, a renewal completed
// after the request was sent and that credential is returned directly.
// Otherwise the caller either starts the single renewal or joins the one in
// flight.
func (coordinator *Coordinator) Renew(ctx context.Context, staleCredential string) (string, error) {
	coordinator.mutex.Lock()
	if coordinator.pending != nil {
		waiting := &queuedRequest{outcome: make(chan refreshOutcome, 1)}
		coordinator.pending.queue = append(coordinator.pending.queue, waiting)
		queueDepth := len(coordinator.pending.queue)
		coordinator.mutex.Unlock()

		coordinator.metrics.Increment(MetricRefreshQueued)
		coordinator.logger.Debug("request queued behind refresh",
			zap.String("code", MetricRefreshQueued),
			zap.Int("queue_depth", queueDepth))

		select {
		case outcome := <-waiting.outcome:
			return outcome.credential, outcome.err
		case <-ctx.Done():
			return "", fmt.Errorf("apiclient.refresh.wait: %w", ctx.Err())
		}
	}

	current, getErr := coordinator.credentials.Get(ctx)
	if getErr != nil {
		coordinator.logger.Warn("credential lookup failed before refresh",
			zap.String("code", "apiclient.refresh.lookup_failed"),
			zap.Error(getErr))
	}
	if getErr == nil && current != "" && current != staleCredential {
		coordinator.mutex.Unlock()
		return current, nil
	}
	coordinator.pending = &pendingRefresh{startedAt: time.Now()}
	coordinator.mutex.Unlock()

	coordinator.metrics.Increment(MetricRefreshStarted)
	coordinator.logger.Info("refreshing credential", zap.String("code", MetricRefreshStarted))

	renewalContext := context.WithoutCancel(ctx)
	credential, refreshErr := coordinator.refresher.Refresh(renewalContext)
	outcome := coordinator.settle(renewalContext, credential, refreshErr)
	return outcome.credential, outcome.err
}

// settle records the renewal result, drains the queue in arrival order and
// returns the coordinator to idle. The store write happens before any queued
// caller is released.
func (coordinator *Coordinator) settle(ctx context.Context, credential string, refreshErr error) refreshOutcome {
	if refreshErr == nil && strings.TrimSpace(credential) == "" {
		refreshErr = ErrRefreshNoCredential
	}

	coordinator.mutex.Lock()
	pending := coordinator.pending
	if pending.signedIn != "" {
		coordinator.pending = nil
		coordinator.mutex.Unlock()
		return coordinator.supersede(pending, refreshErr)
	}
	if refreshErr == nil && pending.signedOut {
		refreshErr = ErrSignedOut
	}
	if refreshErr == nil {
		if setErr := coordinator.credentials.Set(ctx, credential); setErr != nil {
			refreshErr = fmt.Errorf("store: %w", setErr)
		}
	}
	var hooks []func()
	if refreshErr != nil {
		if clearErr := coordinator.credentials.Clear(ctx); clearErr != nil {
			coordinator.logger.Error("credential clear failed after refresh failure",
				zap.String("code", "apiclient.refresh.clear_failed"),
				zap.Error(clearErr))
		}
		hooks = append(hooks, coordinator.signOutHooks...)
	}
	coordinator.pending = nil
	coordinator.mutex.Unlock()

	outcome := refreshOutcome{credential: credential}
	if refreshErr != nil {
		outcome = refreshOutcome{err: fmt.Errorf("apiclient.refresh: %w", refreshErr)}
	}
	for _, waiting := range pending.queue {
		waiting.outcome <- outcome
	}

	elapsed := time.Since(pending.startedAt)
	if refreshErr != nil {
		coordinator.metrics.Increment(MetricRefreshFailure)
		coordinator.logger.Warn("credential refresh failed",
			zap.String("code", MetricRefreshFailure),
			zap.Int("released", len(pending.queue)),
			zap.Duration("elapsed", elapsed),
			zap.Error(refreshErr))
		for _, hook := range hooks {
			hook()
		}
		return outcome
	}
	coordinator.metrics.Increment(MetricRefreshSuccess)
	coordinator.logger.Info("credential refreshed",
		zap.String("code", MetricRefreshSuccess),
		zap.Int("released", len(pending.queue)),
		zap.Duration("elapsed", elapsed))
	return outcome
}

// supersede releases the queue with the credential a concurrent SignIn stored.
// The renewal outcome belongs to the previous session and is dropped.
func (coordinator *Coordinator) supersede(pending *pendingRefresh, refreshErr error) refreshOutcome {
	outcome := refreshOutcome{credential: pending.signedIn}
	for _, waiting := range pending.queue {
		waiting.outcome <- outcome
	}
	coordinator.logger.Info("credential refresh superseded by sign-in",
		zap.String("code", "apiclient.refresh.superseded"),
		zap.Int("released", len(pending.queue)),
		zap.Duration("elapsed", time.Since(pending.startedAt)),
		zap.NamedError("discarded", refreshErr))
	return outcome
}
