package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/internal/stubbackend"
)

func runStubBackend(command *cobra.Command, arguments []string) error {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(stubConfigContextKey)
	}
	stubConfig, ok := contextValue.(StubConfig)
	if !ok {
		return configError(configCodeUninitializedStubConf, "stub configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	directory := stubbackend.NewInMemoryDirectory(0)
	seed := stubbackend.Champion{
		ID:          stubConfig.SeedChampionID,
		Email:       stubConfig.SeedEmail,
		DisplayName: "Seeded Champion",
	}
	if err := directory.Register(seed, stubConfig.SeedPassword); err != nil {
		return err
	}
	logger.Info("seeded champion",
		zap.Int64("champion_id", seed.ID),
		zap.String("email", seed.Email))

	gin.SetMode(gin.ReleaseMode)
	router, routerErr := stubbackend.NewEngine(stubbackend.ServerConfig{
		SigningKey: stubConfig.SigningKey,
		AccessTTL:  stubConfig.AccessTTL,
		RefreshTTL: stubConfig.RefreshTTL,
	}, stubbackend.Dependencies{
		Champions:     directory,
		RefreshTokens: stubbackend.NewMemoryRefreshTokenStore(),
		Logger:        logger,
	})
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              stubConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveUntilSignal(server, logger)
}
