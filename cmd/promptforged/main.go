package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PromptForge-MCP/internal/breakdown"
	"PromptForge-MCP/internal/config"
	"PromptForge-MCP/internal/llm/provider"
	"PromptForge-MCP/internal/mcp"
	"PromptForge-MCP/internal/observability/alerting"
	"PromptForge-MCP/internal/refine"
	"PromptForge-MCP/internal/workflow"
	loggerpkg "PromptForge-MCP/pkg/logger"
)

// main 是 promptforged 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("promptforged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	var (
		configPath = flag.String("config", "", "配置文件路径，默认 ~/.promptforge-mcp/config.yml")
		transport  = flag.String("transport", "", "覆盖配置中的传输方式：stdio 或 http")
		address    = flag.String("address", "", "覆盖 http 传输的监听地址")
	)
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("PROMPTFORGE_CONFIG")
	}
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *transport != "" {
		cfg.Server.Transport = *transport
	}
	if *address != "" {
		cfg.Server.Address = *address
	}

	if err := loggerpkg.Init(loggerpkg.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: loggerpkg.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = loggerpkg.Sync()
	}()

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		return err
	}

	refiner, err := refine.NewRefiner(cfg.Refinement)
	if err != nil {
		return err
	}

	wf := workflow.New(registry, refiner,
		workflow.WithCallTimeout(cfg.LLM.Timeout()),
		workflow.WithCallDefaults(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		workflow.WithParseOptions(breakdown.Options{
			MinComplexity: cfg.Breakdown.MinComplexity,
			MaxComplexity: cfg.Breakdown.MaxComplexity,
			JSONFallback:  !cfg.Breakdown.DisableJSONFallback,
		}),
		workflow.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	)

	loggerpkg.L().Info("promptforged 初始化完成",
		"config", path,
		"default_provider", registry.DefaultProvider(),
		"providers", len(registry.Names()),
	)

	return mcp.NewServer(cfg.Server, wf).Run(ctx)
}
