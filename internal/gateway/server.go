package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/internal/obs"
	"github.com/tyemirov/championportal/pkg/apiclient"
)

// Backend paths the gateway calls on behalf of the page.
const (
	DefaultLoginPath          = "/auth/login"
	DefaultLogoutPath         = "/auth/logout"
	DefaultAvatarPath         = "/champions/me/avatar"
	DefaultFallbackAvatarPath = "/auth/me/avatar"
)

var (
	errMissingClient   = errors.New("gateway.missing_client")
	errMissingResolver = errors.New("gateway.missing_resolver")
)

// Config configures a Server.
type Config struct {
	Client   *apiclient.Client
	Resolver *apiclient.Resolver
	// IdentityCache must be the cache the Resolver reads; sign-in seeds it.
	IdentityCache apiclient.IdentityCache
	Logger        *zap.Logger
	// Gatherer serves /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	// Metrics counts gateway requests when set.
	Metrics            *PrometheusRecorder
	EnableCORS         bool
	CORSAllowedOrigins []string
}

// Server exposes the authenticated client to a browser page.
type Server struct {
	client        *apiclient.Client
	resolver      *apiclient.Resolver
	identityCache apiclient.IdentityCache
	logger        *zap.Logger
}

// NewRouter builds the gateway gin engine.
func NewRouter(configuration Config) (*gin.Engine, error) {
	if configuration.Client == nil {
		return nil, errMissingClient
	}
	if configuration.Resolver == nil {
		return nil, errMissingResolver
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := configuration.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	server := &Server{
		client:        configuration.Client,
		resolver:      configuration.Resolver,
		identityCache: configuration.IdentityCache,
		logger:        logger,
	}
	configuration.Client.OnSignOut(configuration.Resolver.Forget)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obs.GinRequestLogger(logger))
	if configuration.Metrics != nil {
		router.Use(configuration.Metrics.Middleware())
	}
	if configuration.EnableCORS {
		corsMiddleware, corsErr := ConfigureCORS(logger, configuration.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/healthz", server.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.POST("/session", server.signIn)
	router.DELETE("/session", server.signOut)
	router.GET("/session/identity", server.identity)
	router.GET("/session/avatar", server.avatar)
	router.Any("/backend/*path", server.forward)
	return router, nil
}

func (server *Server) health(contextGin *gin.Context) {
	contextGin.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"refresh":     server.client.Coordinator().State().String(),
		"queue_depth": server.client.Coordinator().QueueDepth(),
	})
}

func (server *Server) signIn(contextGin *gin.Context) {
	var inbound struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidJSON})
		return
	}
	ctx := contextGin.Request.Context()
	response, sendErr := server.client.Send(ctx, apiclient.Request{
		Method:          http.MethodPost,
		Path:            DefaultLoginPath,
		Body:            inbound,
		Unauthenticated: true,
	})
	if sendErr != nil {
		server.abortWithError(contextGin, "sign_in", sendErr)
		return
	}

	var payload struct {
		AccessToken string         `json:"access_token"`
		Champion    map[string]any `json:"champion"`
	}
	decoder := json.NewDecoder(bytes.NewReader(response.Body))
	decoder.UseNumber()
	if decodeErr := decoder.Decode(&payload); decodeErr != nil || strings.TrimSpace(payload.AccessToken) == "" {
		server.abortWithError(contextGin, "sign_in", apiclient.ErrRefreshNoCredential)
		return
	}
	server.resolver.Forget()
	if signInErr := server.client.SignIn(ctx, payload.AccessToken); signInErr != nil {
		server.abortWithError(contextGin, "sign_in", signInErr)
		return
	}
	if server.identityCache != nil && payload.Champion != nil {
		if storeErr := server.identityCache.Store(ctx, payload.Champion); storeErr != nil {
			server.logger.Warn("identity cache seed failed",
				zap.String("code", "gateway.sign_in.cache_failed"),
				zap.Error(storeErr))
		}
	}

	championID, resolveErr := server.resolver.Resolve(ctx, nil)
	if resolveErr != nil {
		server.abortWithError(contextGin, "sign_in", resolveErr)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"champion_id": championID})
}

func (server *Server) signOut(contextGin *gin.Context) {
	ctx := contextGin.Request.Context()
	if _, logoutErr := server.client.Send(ctx, apiclient.Request{
		Method:          http.MethodPost,
		Path:            DefaultLogoutPath,
		Unauthenticated: true,
	}); logoutErr != nil {
		server.logger.Info("backend logout failed",
			zap.String("code", "gateway.sign_out.backend_failed"),
			zap.Error(logoutErr))
	}
	if signOutErr := server.client.SignOut(ctx); signOutErr != nil {
		server.abortWithError(contextGin, "sign_out", signOutErr)
		return
	}
	if server.identityCache != nil {
		if clearErr := server.identityCache.Store(context.WithoutCancel(ctx), nil); clearErr != nil {
			server.logger.Warn("identity cache clear failed",
				zap.String("code", "gateway.sign_out.cache_failed"),
				zap.Error(clearErr))
		}
	}
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) identity(contextGin *gin.Context) {
	var candidate any
	if raw, present := contextGin.GetQuery("candidate"); present {
		candidate = raw
	}
	championID, resolveErr := server.resolver.Resolve(contextGin.Request.Context(), candidate)
	if resolveErr != nil {
		server.abortWithError(contextGin, "identity", resolveErr)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"champion_id": championID})
}

func (server *Server) avatar(contextGin *gin.Context) {
	response, sendErr := server.client.SendFirst(contextGin.Request.Context(),
		apiclient.Request{Method: http.MethodGet, Path: DefaultAvatarPath, ExpectBinary: true},
		apiclient.Request{Method: http.MethodGet, Path: DefaultFallbackAvatarPath, ExpectBinary: true},
	)
	if sendErr != nil {
		server.abortWithError(contextGin, "avatar", sendErr)
		return
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contextGin.Header("Cache-Control", "private, max-age=300")
	contextGin.Data(http.StatusOK, contentType, response.Body)
}

// forward relays /backend/<path> to the backend through the authenticated client.
func (server *Server) forward(contextGin *gin.Context) {
	request := apiclient.Request{
		Method: contextGin.Request.Method,
		Path:   contextGin.Param("path"),
		Query:  contextGin.Request.URL.Query(),
	}
	if contentType := contextGin.GetHeader("Content-Type"); contentType != "" {
		request.Header = http.Header{"Content-Type": []string{contentType}}
	}
	if accept := contextGin.GetHeader("Accept"); accept != "" && !strings.Contains(accept, "application/json") {
		request.ExpectBinary = true
	}
	body, readErr := contextGin.GetRawData()
	if readErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorCodeInvalidJSON})
		return
	}
	if len(body) > 0 {
		request.Body = body
	}

	response, sendErr := server.client.Send(contextGin.Request.Context(), request)
	if sendErr != nil && !relayable(response, sendErr) {
		server.abortWithError(contextGin, "forward", sendErr)
		return
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contextGin.Data(response.StatusCode, contentType, response.Body)
}

// relayable reports whether a failed call still carries an upstream response
// worth relaying verbatim. Authorization failures are reported by the gateway.
func relayable(response *apiclient.Response, sendErr error) bool {
	if response == nil || errors.Is(sendErr, apiclient.ErrAuthorization) {
		return false
	}
	var statusErr *apiclient.StatusError
	return errors.As(sendErr, &statusErr)
}
