package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultTimeout bounds every individual network call.
	DefaultTimeout = 15 * time.Second
	// DefaultRefreshPath is the backend renewal endpoint.
	DefaultRefreshPath = "/auth/refresh"
	// DefaultWhoAmIPath is the backend identity endpoint.
	DefaultWhoAmIPath = "/auth/me"
	// DefaultUserAgent identifies the client to the backend.
	DefaultUserAgent = "championportal-apiclient/1.0"

	clientMaxConnsPerHost = 32
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend origin, e.g. https://api.example.org.
	BaseURL string
	// Timeout bounds each network call; DefaultTimeout when zero.
	Timeout     time.Duration
	RefreshPath string
	UserAgent   string
	// Credentials defaults to a MemoryCredentialStore.
	Credentials CredentialStore
	// HTTPClient is used as the underlying transport. A cookie jar is attached
	// when it has none, because renewal relies on an ambient refresh cookie.
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    MetricsRecorder
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded unless it is a []byte or string.
	Body any
	// ExpectBinary asks for an arbitrary payload instead of JSON.
	ExpectBinary bool
	// Unauthenticated sends the request without the bearer header and returns
	// an authorization failure as is, without renewal. Sign-in and sign-out
	// calls use it.
	Unauthenticated bool
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into target.
func (response *Response) DecodeJSON(target any) error {
	if response == nil || len(response.Body) == 0 {
		return errEmptyBody
	}
	if err := json.Unmarshal(response.Body, target); err != nil {
		return fmt.Errorf("apiclient.decode: %w", err)
	}
	return nil
}

var errEmptyBody = errors.New("apiclient.decode: empty body")

// Client attaches the current credential to backend calls and recovers from
// authorization failures through its Coordinator.
type Client struct {
	http        *resty.Client
	credentials CredentialStore
	coordinator *Coordinator
	timeout     time.Duration
	refreshPath string
	logger      *zap.Logger
	metrics     MetricsRecorder
}

// New constructs a Client after validating the supplied configuration.
func New(configuration Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("apiclient.new: %w", ErrMissingBaseURL)
	}
	parsed, parseErr := url.Parse(baseURL)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient.new: invalid base url %q", baseURL)
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	refreshPath := configuration.RefreshPath
	if strings.TrimSpace(refreshPath) == "" {
		refreshPath = DefaultRefreshPath
	}
	userAgent := configuration.UserAgent
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	credentials := configuration.Credentials
	if credentials == nil {
		credentials = NewMemoryCredentialStore()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = nopMetrics{}
	if configuration.Metrics != nil {
		metrics = configuration.Metrics
	}

	httpClient, httpErr := prepareHTTPClient(configuration.HTTPClient)
	if httpErr != nil {
		return nil, fmt.Errorf("apiclient.new: %w", httpErr)
	}
	restyClient := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent)

	client := &Client{
		http:        restyClient,
		credentials: credentials,
		timeout:     timeout,
		refreshPath: refreshPath,
		logger:      logger,
		metrics:     metrics,
	}
	coordinator, coordinatorErr := NewCoordinator(CoordinatorConfig{
		Credentials: credentials,
		Refresher:   RefresherFunc(client.refresh),
		Logger:      logger,
		Metrics:     metrics,
	})
	if coordinatorErr != nil {
		return nil, fmt.Errorf("apiclient.new: %w", coordinatorErr)
	}
	client.coordinator = coordinator
	return client, nil
}

func prepareHTTPClient(supplied *http.Client) (*http.Client, error) {
	var httpClient http.Client
	if supplied != nil {
		httpClient = *supplied
	} else {
		httpClient = http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxConnsPerHost:       clientMaxConnsPerHost,
				MaxIdleConnsPerHost:   clientMaxConnsPerHost,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	if httpClient.Jar == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, jarErr
		}
		httpClient.Jar = jar
	}
	return &httpClient, nil
}

// Coordinator exposes the refresh coordinator owned by this client.
func (client *Client) Coordinator() *Coordinator {
	return client.coordinator
}

// Credential returns the current credential or an empty string.
func (client *Client) Credential(ctx context.Context) (string, error) {
	return client.credentials.Get(ctx)
}

// SignIn stores a credential obtained by the embedding application's sign-in flow.
func (client *Client) SignIn(ctx context.Context, credential string) error {
	return client.coordinator.SignIn(ctx, credential)
}

// SignOut clears the credential. Calling it on an empty store is a no-op.
func (client *Client) SignOut(ctx context.Context) error {
	return client.coordinator.SignOut(ctx)
}

// OnSignOut registers a hook that runs whenever the credential is cleared.
func (client *Client) OnSignOut(hook func()) {
	client.coordinator.OnSignOut(hook)
}

// Send issues the request with the current credential. An authorization
// failure triggers, or joins, a single renewal and the request is replayed
// once with the renewed credential; every other failure propagates as is.
func (client *Client) Send(ctx context.Context, request Request) (*Response, error) {
	if strings.TrimSpace(request.Method) == "" {
		request.Method = http.MethodGet
	}
	if request.Unauthenticated {
		response, sendErr := client.dispatch(ctx, request, "")
		if sendErr != nil {
			return nil, sendErr
		}
		return client.outcome(request, response)
	}
	credential, getErr := client.credentials.Get(ctx)
	if getErr != nil {
		return nil, fmt.Errorf("apiclient.send: credential lookup: %w", getErr)
	}

	response, sendErr := client.dispatch(ctx, request, credential)
	if sendErr != nil {
		return nil, sendErr
	}
	if response.StatusCode != http.StatusUnauthorized {
		return client.outcome(request, response)
	}

	authErr := client.statusError(request, response)
	renewed, renewErr := client.coordinator.Renew(ctx, credential)
	if renewErr != nil {
		return response, fmt.Errorf("apiclient.send: %w: %w", authErr, renewErr)
	}

	client.metrics.Increment(MetricRequestReplayed)
	replayed, replayErr := client.dispatch(ctx, request, renewed)
	if replayErr != nil {
		return nil, replayErr
	}
	if replayed.StatusCode == http.StatusUnauthorized {
		client.logger.Warn("renewed credential rejected",
			zap.String("code", "apiclient.request.replay_unauthorized"),
			zap.String("method", request.Method),
			zap.String("path", request.Path))
		return replayed, fmt.Errorf("apiclient.send.replay: %w", client.statusError(request, replayed))
	}
	return client.outcome(request, replayed)
}

func (client *Client) dispatch(ctx context.Context, request Request, credential string) (*Response, error) {
	callContext, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	accept := "application/json"
	if request.ExpectBinary {
		accept = "*/*"
	}
	restyRequest := client.http.R().
		SetContext(callContext).
		SetHeader("Accept", accept)
	for headerName, headerValues := range request.Header {
		for _, headerValue := range headerValues {
			restyRequest.Header.Add(headerName, headerValue)
		}
	}
	if len(request.Query) > 0 {
		restyRequest.SetQueryParamsFromValues(request.Query)
	}
	if credential != "" {
		restyRequest.SetAuthToken(credential)
	}
	if request.Body != nil {
		restyRequest.SetBody(request.Body)
		if isJSONBody(request.Body) && restyRequest.Header.Get("Content-Type") == "" {
			restyRequest.SetHeader("Content-Type", "application/json")
		}
	}

	restyResponse, executeErr := restyRequest.Execute(request.Method, request.Path)
	if executeErr != nil {
		return nil, client.classify(ctx, request, executeErr)
	}
	return &Response{
		StatusCode: restyResponse.StatusCode(),
		Header:     restyResponse.Header(),
		Body:       restyResponse.Body(),
	}, nil
}

func isJSONBody(body any) bool {
	switch body.(type) {
	case []byte, string:
		return false
	default:
		return true
	}
}

func (client *Client) classify(ctx context.Context, request Request, executeErr error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("apiclient.send %s %s: %w", request.Method, request.Path, ctxErr)
	}
	var netErr net.Error
	if errors.Is(executeErr, context.DeadlineExceeded) || (errors.As(executeErr, &netErr) && netErr.Timeout()) {
		client.metrics.Increment(MetricRequestTimeout)
		client.logger.Warn("backend call timed out",
			zap.String("code", MetricRequestTimeout),
			zap.String("method", request.Method),
			zap.String("path", request.Path),
			zap.Duration("timeout", client.timeout))
		return fmt.Errorf("apiclient.send %s %s: %w after %s", request.Method, request.Path, ErrTimeout, client.timeout)
	}
	return fmt.Errorf("apiclient.send %s %s: %w: %w", request.Method, request.Path, ErrTransport, executeErr)
}

func (client *Client) outcome(request Request, response *Response) (*Response, error) {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return response, nil
	}
	return response, client.statusError(request, response)
}

func (client *Client) statusError(request Request, response *Response) *StatusError {
	return &StatusError{
		Method:     request.Method,
		Path:       request.Path,
		StatusCode: response.StatusCode,
		Body:       response.Body,
	}
}

// refresh performs the renewal call. It never carries the bearer header and
// never re-enters the renewal path.
func (client *Client) refresh(ctx context.Context) (string, error) {
	request := Request{Method: http.MethodPost, Path: client.refreshPath}
	response, sendErr := client.dispatch(ctx, request, "")
	if sendErr != nil {
		return "", sendErr
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", client.statusError(request, response)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if decodeErr := response.DecodeJSON(&payload); decodeErr != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshNoCredential, decodeErr)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", ErrRefreshNoCredential
	}
	return payload.AccessToken, nil
}
