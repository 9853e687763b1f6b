package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tyemirov/championportal/internal/credentialstore"
	"github.com/tyemirov/championportal/internal/credentialstorepg"
	"github.com/tyemirov/championportal/internal/gateway"
	"github.com/tyemirov/championportal/pkg/apiclient"
)

func runGateway(command *cobra.Command, arguments []string) error {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(gatewayConfigContextKey)
	}
	gatewayConfig, ok := contextValue.(GatewayConfig)
	if !ok {
		return configError(configCodeUninitializedGatewayConf, "gateway configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	credentials, closeCredentials, storeErr := openCredentialStore(commandContext, gatewayConfig, logger)
	if storeErr != nil {
		return storeErr
	}
	defer closeCredentials()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, metricsErr := gateway.NewPrometheusRecorder(registry)
	if metricsErr != nil {
		return metricsErr
	}

	client, clientErr := apiclient.New(apiclient.Config{
		BaseURL:     gatewayConfig.BackendURL,
		Timeout:     gatewayConfig.RequestTimeout,
		RefreshPath: gatewayConfig.RefreshPath,
		Credentials: credentials,
		Logger:      logger,
		Metrics:     metrics,
	})
	if clientErr != nil {
		return clientErr
	}

	identityCache := openIdentityCache(gatewayConfig, logger)
	resolver, resolverErr := apiclient.NewResolver(apiclient.ResolverConfig{
		Sender:     client,
		Cache:      identityCache,
		WhoAmIPath: gatewayConfig.WhoAmIPath,
		Logger:     logger,
		Metrics:    metrics,
	})
	if resolverErr != nil {
		return resolverErr
	}

	gin.SetMode(gin.ReleaseMode)
	router, routerErr := gateway.NewRouter(gateway.Config{
		Client:             client,
		Resolver:           resolver,
		IdentityCache:      identityCache,
		Logger:             logger,
		Gatherer:           registry,
		Metrics:            metrics,
		EnableCORS:         gatewayConfig.EnableCORS,
		CORSAllowedOrigins: gatewayConfig.CORSAllowedOrigins,
	})
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              gatewayConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveUntilSignal(server, logger)
}

// openCredentialStore selects the configured store and returns a function releasing it.
func openCredentialStore(ctx context.Context, gatewayConfig GatewayConfig, logger *zap.Logger) (apiclient.CredentialStore, func(), error) {
	switch gatewayConfig.CredentialStore {
	case credentialStoreDatabase:
		store, err := credentialstore.Open(ctx, gatewayConfig.DatabaseURL, credentialstore.DefaultSlot)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using persistent credential store", zap.String("driver", store.Driver()))
		return store, func() { _ = store.Close() }, nil
	case credentialStorePGX:
		store, err := credentialstorepg.Open(ctx, gatewayConfig.DatabaseURL, credentialstorepg.DefaultSlot)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres credential store")
		return store, store.Close, nil
	case credentialStoreMemory:
		logger.Info("using in-memory credential store")
		return apiclient.NewMemoryCredentialStore(), func() {}, nil
	default:
		return nil, nil, configError(configCodeUnknownCredentialStore, fmt.Sprintf("credential_store %q is not supported", gatewayConfig.CredentialStore))
	}
}

func openIdentityCache(gatewayConfig GatewayConfig, logger *zap.Logger) apiclient.IdentityCache {
	if gatewayConfig.IdentityCachePath == "" {
		return apiclient.NewMemoryIdentityCache(nil)
	}
	logger.Info("using file identity cache", zap.String("path", gatewayConfig.IdentityCachePath))
	return apiclient.NewFileIdentityCache(afero.NewOsFs(), gatewayConfig.IdentityCachePath)
}
