// Command chatserver runs the Chat Server: the HTTP facade in front of the
// ReAct orchestrator, tiered session memory, and human-in-the-loop bridge.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplatform/core/internal/agent"
	"github.com/agentplatform/core/internal/agent/providers"
	"github.com/agentplatform/core/internal/auth"
	"github.com/agentplatform/core/internal/chatserver"
	"github.com/agentplatform/core/internal/config"
	"github.com/agentplatform/core/internal/observability"
	"github.com/agentplatform/core/internal/sessions"
	"github.com/agentplatform/core/internal/tools/humaninput"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chatserver",
		Short: "Run the agent chat server",
		Long: `chatserver exposes thread CRUD, a streaming /chat endpoint driving
the ReAct orchestrator, and the human-in-the-loop respond bridge over HTTP.`,
		Example: `  chatserver --config ./config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envOr("CHATSERVER_CONFIG", "config.yaml"), "path to the chatserver YAML config file")
	return cmd
}

func run(ctx context.Context, logger *observability.Logger, cfg *config.Config) error {
	llmProvider, err := buildProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	hot := sessions.NewHotTier(sessions.HotTierOptions{
		MaxMessages: cfg.Session.HotTier.MaxMessages,
		TTL:         cfg.Session.HotTier.TTL,
	})
	hot.StartSweeper(ctx, cfg.Session.HotTier.TTL/2)

	var cold sessions.Tier
	var history sessions.Store
	if cfg.Session.ColdTier.DSN != "" {
		store, err := sessions.NewCockroachStoreFromDSN(cfg.Session.ColdTier.DSN, nil)
		if err != nil {
			return fmt.Errorf("connect cold tier: %w", err)
		}
		cold = store

		histStore, err := sessions.NewHistoryStore(cfg.Session.ColdTier.DSN)
		if err != nil {
			return fmt.Errorf("connect history store: %w", err)
		}
		defer histStore.Close()
		history = histStore
	} else {
		logger.Info(ctx, "no cold tier DSN configured, running with in-memory session storage")
		cold = sessions.NewHotTier(sessions.HotTierOptions{MaxMessages: cfg.Session.HotTier.MaxMessages, TTL: 0})
		history = sessions.NewMemoryHistoryStore()
	}

	manager := sessions.NewManager(hot, cold, sessions.ManagerOptions{
		AutoCheckpointThreshold: cfg.Session.AutoCheckpointThreshold,
	})

	approvalChecker := agent.NewApprovalChecker(nil)
	approvalChecker.SetStore(agent.NewMemoryApprovalStore())

	metrics := observability.NewMetrics()
	loopCfg := &agent.LoopConfig{ApprovalChecker: approvalChecker, Metrics: metrics}
	runtime := agent.NewAgenticRuntime(llmProvider, history, loopCfg)
	if def := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; def.DefaultModel != "" {
		runtime.SetDefaultModel(def.DefaultModel)
	}
	runtime.RegisterTool(humaninput.New())

	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		apiKeys := make([]auth.APIKeyConfig, len(cfg.Auth.APIKeys))
		for i, k := range cfg.Auth.APIKeys {
			apiKeys[i] = auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name}
		}
		authSvc = auth.NewService(auth.Config{
			JWTSecret:   cfg.Auth.JWTSecret,
			TokenExpiry: cfg.Auth.TokenExpiry,
			APIKeys:     apiKeys,
		})
	}

	srvCfg := chatserver.DefaultConfig()
	srvCfg.AuthService = authSvc
	srvCfg.Metrics = metrics

	srv := chatserver.New(manager, history, runtime, approvalChecker, srvCfg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	logger.Info(ctx, "chatserver listening", "addr", addr, "provider", cfg.LLM.DefaultProvider)
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := cfg.DefaultProvider
	p := cfg.Providers[name]
	switch name {
	case "openai":
		return providers.NewOpenAIProvider(p.APIKey), nil
	case "anthropic", "":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: p.APIKey, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: p.APIKey, DefaultModel: p.DefaultModel})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{Region: cfg.Bedrock.Region, DefaultModel: p.DefaultModel})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{Endpoint: p.BaseURL, APIKey: p.APIKey, APIVersion: p.APIVersion, DefaultModel: p.DefaultModel})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: p.BaseURL, DefaultModel: p.DefaultModel}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{APIKey: p.APIKey, DefaultModel: p.DefaultModel})
	case "copilot-proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{BaseURL: p.BaseURL})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
