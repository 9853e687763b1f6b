package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/internal/obs"
)

const serviceVersion = "0.1.0"

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "portal",
		Short:        "Champion portal gateway: authenticated backend client with single-flight credential refresh",
		SilenceUsage: true,
		PreRunE:      prepareGatewayConfig,
		RunE:         runGateway,
	}

	rootCmd.PersistentFlags().String("config", "", "Optional YAML configuration file")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log_pretty", false, "Human-readable console logs")

	rootCmd.Flags().String("listen_addr", ":8080", "Gateway HTTP listen address")
	rootCmd.Flags().String("backend_url", "", "Backend origin, e.g. https://api.example.org")
	rootCmd.Flags().Duration("request_timeout", 15*time.Second, "Budget for each backend call")
	rootCmd.Flags().String("refresh_path", "/auth/refresh", "Backend credential renewal endpoint")
	rootCmd.Flags().String("whoami_path", "/auth/me", "Backend identity endpoint")
	rootCmd.Flags().String("credential_store", credentialStoreMemory, "Credential store: memory, database or pgx")
	rootCmd.Flags().String("database_url", "", "Database URL for the database (postgres:// or sqlite://) and pgx stores")
	rootCmd.Flags().String("identity_cache_path", "", "JSON file caching the champion identity; empty keeps it in memory")
	rootCmd.Flags().Bool("enable_cors", false, "Enable credentialed CORS for the portal page")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	bindFlags(rootCmd, "config", "log_level", "log_pretty")
	bindLocalFlags(rootCmd,
		"listen_addr", "backend_url", "request_timeout", "refresh_path", "whoami_path",
		"credential_store", "database_url", "identity_cache_path", "enable_cors", "cors_allowed_origins")

	rootCmd.AddCommand(newStubBackendCommand())

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	return rootCmd
}

func newStubBackendCommand() *cobra.Command {
	stubCmd := &cobra.Command{
		Use:     "stub-backend",
		Short:   "Development backend implementing login, refresh, whoami and champion endpoints",
		PreRunE: prepareStubConfig,
		RunE:    runStubBackend,
	}
	stubCmd.Flags().String("stub_listen_addr", ":8081", "Stub backend HTTP listen address")
	stubCmd.Flags().String("stub_signing_key", "", "HS256 signing secret for stub access credentials")
	stubCmd.Flags().Duration("stub_access_ttl", 5*time.Minute, "Access credential TTL")
	stubCmd.Flags().Duration("stub_refresh_ttl", 24*time.Hour, "Refresh cookie TTL")
	stubCmd.Flags().String("stub_seed_email", "champion@example.com", "Seeded champion email")
	stubCmd.Flags().String("stub_seed_password", "", "Seeded champion password")
	stubCmd.Flags().Int64("stub_seed_champion_id", 1, "Seeded champion id")
	bindLocalFlags(stubCmd,
		"stub_listen_addr", "stub_signing_key", "stub_access_ttl", "stub_refresh_ttl",
		"stub_seed_email", "stub_seed_password", "stub_seed_champion_id")
	return stubCmd
}

func bindFlags(command *cobra.Command, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, command.PersistentFlags().Lookup(name))
	}
}

func bindLocalFlags(command *cobra.Command, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, command.Flags().Lookup(name))
	}
}

type contextKey string

const (
	gatewayConfigContextKey contextKey = "gatewayConfig"
	stubConfigContextKey    contextKey = "stubConfig"
)

func prepareGatewayConfig(command *cobra.Command, arguments []string) error {
	if err := readConfigFile(); err != nil {
		return err
	}
	gatewayConfig, loadErr := LoadGatewayConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), gatewayConfigContextKey, gatewayConfig))
	return nil
}

func prepareStubConfig(command *cobra.Command, arguments []string) error {
	if err := readConfigFile(); err != nil {
		return err
	}
	stubConfig, loadErr := LoadStubConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), stubConfigContextKey, stubConfig))
	return nil
}

func commandContext(command *cobra.Command) context.Context {
	if existingContext := command.Context(); existingContext != nil {
		return existingContext
	}
	return context.Background()
}

func readConfigFile() error {
	configPath := strings.TrimSpace(viper.GetString("config"))
	if configPath == "" {
		return nil
	}
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return configError(configCodeUnreadableFile, fmt.Sprintf("config file %s: %v", configPath, err))
	}
	return nil
}

func buildLogger() (*zap.Logger, error) {
	return obs.NewLogger(obs.LogConfig{
		Level:   viper.GetString("log_level"),
		Pretty:  viper.GetBool("log_pretty"),
		Service: "championportal",
		Version: serviceVersion,
	})
}

// serveUntilSignal runs server until SIGINT or SIGTERM, then drains it.
func serveUntilSignal(server *http.Server, logger *zap.Logger) error {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", server.Addr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
