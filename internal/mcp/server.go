package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"PromptForge-MCP/internal/config"
	"PromptForge-MCP/internal/observability/metrics"
	"PromptForge-MCP/internal/workflow"
	loggerpkg "PromptForge-MCP/pkg/logger"
)

// Version 对外上报的服务版本，由构建脚本通过 -ldflags 覆盖。
var Version = "dev"

const serverInstructions = "This server refines prompts, delegates work to external " +
	"large language models and decomposes tasks into sub-tasks. Use refine_prompt " +
	"before sending complex work to a model, and breakdown_task to split large tasks " +
	"into rated sub-tasks."

// Server 把工作流封装为一个 MCP 服务，支持 stdio 与 streamable HTTP 两种传输。
type Server struct {
	cfg       config.ServerConfig
	workflow  *workflow.Workflow
	mcpServer *server.MCPServer
}

// NewServer 构造 MCP 服务并注册全部工具。
func NewServer(cfg config.ServerConfig, wf *workflow.Workflow) *Server {
	s := &Server{
		cfg:      cfg,
		workflow: wf,
		mcpServer: server.NewMCPServer(
			cfg.Name,
			Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(serverInstructions),
		),
	}
	s.registerTools()
	return s
}

// Run 按配置的传输方式启动服务，阻塞直到上下文取消或服务出错。
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case "http":
		return s.runHTTP(ctx)
	default:
		return s.runStdio(ctx)
	}
}

// runStdio 在标准输入输出上提供服务。stdout 承载协议消息，
// 因此所有日志必须已经路由到 stderr 或文件。
func (s *Server) runStdio(ctx context.Context) error {
	loggerpkg.L().Info("mcp 服务启动", "transport", "stdio", "server", s.cfg.Name)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s.mcpServer)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// runHTTP 把 streamable HTTP 传输挂载到独立的 http.Server 上，
// 以便附加探活端点、鉴权中间件与优雅退出。
func (s *Server) runHTTP(ctx context.Context) error {
	streamable := server.NewStreamableHTTPServer(s.mcpServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", BearerAuth(s.cfg.AuthToken)(streamable))

	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	loggerpkg.L().Info("mcp 服务启动",
		"transport", "http",
		"server", s.cfg.Name,
		"address", s.cfg.Address,
		"auth_enabled", s.cfg.AuthToken != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
