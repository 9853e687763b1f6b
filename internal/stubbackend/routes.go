package stubbackend

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/internal/obs"
	"github.com/tyemirov/championportal/pkg/sessionvalidator"
)

const defaultAvatarSize = 16

// Dependencies bundles the stores and collaborators the routes need.
type Dependencies struct {
	Champions     ChampionDirectory
	RefreshTokens RefreshTokenStore
	Logger        *zap.Logger
	// Clock drives token issuance and validation; the system clock when nil.
	Clock sessionvalidator.Clock
}

// NewEngine builds a gin engine serving the backend routes.
func NewEngine(configuration ServerConfig, dependencies Dependencies) (*gin.Engine, error) {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obs.GinRequestLogger(logger))
	if err := MountRoutes(router, configuration, dependencies); err != nil {
		return nil, err
	}
	return router, nil
}

// MountRoutes registers /auth/login, /auth/refresh, /auth/logout, /auth/me,
// /auth/me/avatar, /champions/me/avatar and /champions/:id/dashboard.
func MountRoutes(router gin.IRouter, configuration ServerConfig, dependencies Dependencies) error {
	configuration, configErr := configuration.withDefaults()
	if configErr != nil {
		return configErr
	}
	if dependencies.Champions == nil || dependencies.RefreshTokens == nil {
		return errors.New("stub_backend.routes: champion directory and refresh store are required")
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.SigningKey,
		Issuer:     configuration.Issuer,
		Clock:      dependencies.Clock,
	})
	if validatorErr != nil {
		return validatorErr
	}
	handlers := &routeHandlers{
		configuration: configuration,
		champions:     dependencies.Champions,
		refreshTokens: dependencies.RefreshTokens,
		validator:     validator,
		logger:        logger,
	}

	router.POST("/auth/login", handlers.login)
	router.POST("/auth/refresh", handlers.refresh)
	router.POST("/auth/logout", handlers.logout)

	protected := router.Group("/")
	protected.Use(validator.GinMiddleware(sessionvalidator.DefaultContextKey))
	protected.GET("/auth/me", handlers.whoAmI)
	protected.GET("/auth/me/avatar", handlers.defaultAvatar)
	protected.GET("/champions/me/avatar", handlers.uploadedAvatar)
	protected.GET("/champions/:id/dashboard", handlers.dashboard)
	return nil
}

type routeHandlers struct {
	configuration ServerConfig
	champions     ChampionDirectory
	refreshTokens RefreshTokenStore
	validator     *sessionvalidator.Validator
	logger        *zap.Logger
}

func (handlers *routeHandlers) login(contextGin *gin.Context) {
	var inbound struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	champion, authErr := handlers.champions.Authenticate(contextGin, inbound.Email, inbound.Password)
	if authErr != nil {
		handlers.logger.Info("login rejected",
			zap.String("code", "stub_backend.login.rejected"),
			zap.Error(authErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	accessToken, ok := handlers.issueSession(contextGin, champion, "")
	if !ok {
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"champion":     championPayload(champion),
	})
}

func (handlers *routeHandlers) refresh(contextGin *gin.Context) {
	refreshCookie, cookieErr := contextGin.Request.Cookie(handlers.configuration.RefreshCookieName)
	if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_refresh_token"})
		return
	}
	championID, currentTokenID, _, validateErr := handlers.refreshTokens.Validate(contextGin, refreshCookie.Value)
	if validateErr != nil {
		handlers.logger.Info("refresh rejected",
			zap.String("code", "stub_backend.refresh.rejected"),
			zap.Error(validateErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	champion, lookupErr := handlers.champions.Lookup(contextGin, championID)
	if lookupErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_champion"})
		return
	}
	accessToken, ok := handlers.issueSession(contextGin, champion, currentTokenID)
	if !ok {
		return
	}
	if revokeErr := handlers.refreshTokens.Revoke(contextGin, currentTokenID); revokeErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"access_token": accessToken})
}

func (handlers *routeHandlers) logout(contextGin *gin.Context) {
	refreshCookie, cookieErr := contextGin.Request.Cookie(handlers.configuration.RefreshCookieName)
	if cookieErr == nil && refreshCookie != nil && strings.TrimSpace(refreshCookie.Value) != "" {
		_, tokenID, _, validateErr := handlers.refreshTokens.Validate(contextGin, refreshCookie.Value)
		if validateErr == nil && tokenID != "" {
			_ = handlers.refreshTokens.Revoke(contextGin, tokenID)
		}
	}
	handlers.clearRefreshCookie(contextGin)
	contextGin.Status(http.StatusNoContent)
}

func (handlers *routeHandlers) whoAmI(contextGin *gin.Context) {
	champion, ok := handlers.currentChampion(contextGin)
	if !ok {
		return
	}
	claims, _ := sessionvalidator.ClaimsFromContext(contextGin, sessionvalidator.DefaultContextKey)
	contextGin.JSON(http.StatusOK, gin.H{
		"champion": championPayload(champion),
		"expires":  claims.GetExpiresAt(),
	})
}

func (handlers *routeHandlers) defaultAvatar(contextGin *gin.Context) {
	champion, ok := handlers.currentChampion(contextGin)
	if !ok {
		return
	}
	payload, renderErr := renderDefaultAvatar(champion.ID)
	if renderErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Data(http.StatusOK, "image/png", payload)
}

func (handlers *routeHandlers) uploadedAvatar(contextGin *gin.Context) {
	champion, ok := handlers.currentChampion(contextGin)
	if !ok {
		return
	}
	if len(champion.AvatarPNG) == 0 {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "avatar_not_uploaded"})
		return
	}
	contextGin.Data(http.StatusOK, "image/png", champion.AvatarPNG)
}

func (handlers *routeHandlers) dashboard(contextGin *gin.Context) {
	requestedID, parseErr := strconv.ParseInt(contextGin.Param("id"), 10, 64)
	if parseErr != nil || requestedID <= 0 {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_champion_id"})
		return
	}
	champion, ok := handlers.currentChampion(contextGin)
	if !ok {
		return
	}
	if champion.ID != requestedID {
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"champion_id":  champion.ID,
		"display_name": champion.DisplayName,
		"generated_at": time.Now().UTC(),
	})
}

func (handlers *routeHandlers) currentChampion(contextGin *gin.Context) (Champion, bool) {
	claims, ok := sessionvalidator.ClaimsFromContext(contextGin, sessionvalidator.DefaultContextKey)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return Champion{}, false
	}
	champion, lookupErr := handlers.champions.Lookup(contextGin, claims.GetChampionID())
	if lookupErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_champion"})
		return Champion{}, false
	}
	return champion, true
}

// issueSession mints an access token and sets a fresh refresh cookie linked to previousTokenID.
func (handlers *routeHandlers) issueSession(contextGin *gin.Context, champion Champion, previousTokenID string) (string, bool) {
	accessToken, _, mintErr := handlers.validator.Mint(champion.ID, champion.Email, champion.DisplayName, handlers.configuration.AccessTTL)
	if mintErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return "", false
	}
	refreshExpiresAt := time.Now().UTC().Add(handlers.configuration.RefreshTTL)
	_, refreshOpaque, issueErr := handlers.refreshTokens.Issue(contextGin, champion.ID, refreshExpiresAt.Unix(), previousTokenID)
	if issueErr != nil || strings.TrimSpace(refreshOpaque) == "" {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return "", false
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     handlers.configuration.RefreshCookieName,
		Value:    refreshOpaque,
		Path:     "/auth",
		Domain:   handlers.configuration.CookieDomain,
		Expires:  refreshExpiresAt,
		Secure:   handlers.configuration.SecureCookies,
		HttpOnly: true,
		SameSite: handlers.configuration.SameSiteMode,
	})
	return accessToken, true
}

func (handlers *routeHandlers) clearRefreshCookie(contextGin *gin.Context) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     handlers.configuration.RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   handlers.configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   handlers.configuration.SecureCookies,
		HttpOnly: true,
		SameSite: handlers.configuration.SameSiteMode,
	})
}

func championPayload(champion Champion) gin.H {
	return gin.H{
		"id":           champion.ID,
		"email":        champion.Email,
		"display_name": champion.DisplayName,
	}
}

// renderDefaultAvatar draws a solid square whose color derives from the champion id.
func renderDefaultAvatar(championID int64) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, defaultAvatarSize, defaultAvatarSize))
	fill := color.RGBA{
		R: uint8(championID * 67),
		G: uint8(championID * 131),
		B: uint8(championID * 197),
		A: 0xff,
	}
	for x := 0; x < defaultAvatarSize; x++ {
		for y := 0; y < defaultAvatarSize; y++ {
			canvas.Set(x, y, fill)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, canvas); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
