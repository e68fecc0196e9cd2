package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaohan0616/acpd/config"
	"github.com/xiaohan0616/acpd/internal/agent"
	anthropicagent "github.com/xiaohan0616/acpd/internal/agent/anthropic"
	openaiagent "github.com/xiaohan0616/acpd/internal/agent/openai"
	"github.com/xiaohan0616/acpd/internal/elicit"
	"github.com/xiaohan0616/acpd/internal/hub"
	"github.com/xiaohan0616/acpd/internal/runstore"
	"github.com/xiaohan0616/acpd/internal/service"
	handler "github.com/xiaohan0616/acpd/internal/transport/http"
	"github.com/xiaohan0616/acpd/policy"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting acpd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Store backend: %s", cfg.StoreBackend)

	// Initialize store
	var store runstore.Store
	switch cfg.StoreBackend {
	case "sqlite":
		db, err := runstore.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize store: %v", err)
		}
		store = db
	default:
		store = runstore.NewMemoryStore()
	}
	defer store.Close()

	// Initialize policy engine
	ctx := context.Background()
	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		raw, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			log.Fatalf("Failed to read policy file: %v", err)
		}
		policyContent = string(raw)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Register agents
	elicits := elicit.NewManager()
	registry := agent.NewRegistry()
	if cfg.AnthropicAPIKey != "" {
		registry.Register("claude", func(string) agent.Agent {
			return anthropicagent.New(func(o *anthropicagent.Options) {
				o.APIKey = cfg.AnthropicAPIKey
				o.Tools = []anthropicagent.Tool{{
					Name:        "shell",
					Description: shellToolDescription,
					Properties:  shellToolProperties,
					Required:    []string{"command"},
					Run:         runShellTool,
				}}
			})
		})
		log.Printf("Registered agent: claude")
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register("gpt", func(string) agent.Agent {
			return openaiagent.New(func(o *openaiagent.Options) {
				o.APIKey = cfg.OpenAIAPIKey
				o.Tools = []openaiagent.Tool{{
					Name:        "shell",
					Description: shellToolDescription,
					Properties:  shellToolProperties,
					Required:    []string{"command"},
					Run:         runShellTool,
				}}
			})
		})
		log.Printf("Registered agent: gpt")
	}

	// Event fan-out for WebSocket watchers
	eventHub := hub.New()
	go eventHub.Run()

	// Initialize service and server
	svc := service.New(store, registry, elicits, policyEngine, eventHub)
	server := handler.NewServer(svc, eventHub)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("ACP API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down acpd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("acpd stopped")
}

const shellToolDescription = "Run a shell command and return its combined output. Every call requires an explicit confirmation from the run's caller."

var shellToolProperties = map[string]any{
	"command": map[string]any{
		"type":        "string",
		"description": "The command to execute",
	},
}

func runShellTool(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return "", fmt.Errorf("invalid shell arguments: %w", err)
	}
	if req.Command == "" {
		return "", fmt.Errorf("command is required")
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", req.Command).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}
