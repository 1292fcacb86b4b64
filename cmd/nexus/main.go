package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahmkhn/klaviyo-nexus/agent"
	"github.com/ahmkhn/klaviyo-nexus/agent/terminal"
	"github.com/ahmkhn/klaviyo-nexus/api"
	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/identity"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
	"github.com/ahmkhn/klaviyo-nexus/llm"
	"github.com/ahmkhn/klaviyo-nexus/logging"
	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
)

func main() {
	// Define flags
	configFlag := flag.String("config", "", "Path to a config file (overrides the default lookup)")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides config)")
	localFlag := flag.Bool("local", false, "Run the terminal REPL with KLAVIYO_API_TOKEN instead of the HTTP server")
	sessionFlag := flag.String("s", "", "Session name for the local REPL")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to all tools)")
	verboseFlag := flag.Bool("verbose", false, "Print tool traces in the local REPL")
	logLevelFlag := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *configFlag != "" {
		cfg, err = config.LoadFile(*configFlag)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}

	log := logging.Setup(cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backing stores
	var (
		approvals approval.Store
		idCache   identity.Cache
		authStore auth.Store
	)
	switch cfg.Storage.Driver {
	case "", "memory":
		approvals = approval.NewMemoryStore(cfg.Storage.ActionTTL)
		idCache = identity.NewMemoryCache(cfg.Storage.ActionTTL)
		authStore = auth.NewMemoryStore()
	case "mysql", "redis":
		if cfg.Storage.MySQLDSN != "" {
			store, err := auth.NewMySQLStore(ctx, cfg.Storage.MySQLDSN)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error connecting to MySQL: %+v\n", err)
				os.Exit(1)
			}
			defer store.Close()
			authStore = store
		} else {
			authStore = auth.NewMemoryStore()
		}
		if cfg.Storage.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.RedisAddr,
				DB:       cfg.Storage.RedisDB,
				Password: cfg.Storage.RedisPass,
			})
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := rdb.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error connecting to Redis: %+v\n", err)
				os.Exit(1)
			}
			approvals = approval.NewRedisStore(rdb, cfg.Storage.ActionTTL)
			idCache = identity.NewRedisCache(rdb, cfg.Storage.ActionTTL)
		} else {
			approvals = approval.NewMemoryStore(cfg.Storage.ActionTTL)
			idCache = identity.NewMemoryCache(cfg.Storage.ActionTTL)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown storage driver '%s'. Must be 'memory', 'mysql', or 'redis'.\n", cfg.Storage.Driver)
		os.Exit(1)
	}

	// Tool registry
	registry := tools.NewRegistry(tools.Deps{
		Klaviyo:   klaviyo.NewClient(cfg.Klaviyo),
		Approvals: approvals,
		Identity:  idCache,
		Defaults: approval.Defaults{
			FromEmail: cfg.Klaviyo.DefaultFrom,
			FromLabel: cfg.Klaviyo.DefaultFromLbl,
		},
		AllowStatelessExecute: cfg.AllowStatelessExecute,
	})
	if len(cfg.AdditionalMCPServers) > 0 {
		if err := registry.ConnectMCP(ctx, cfg.AdditionalMCPServers); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting MCP servers: %+v\n", err)
			os.Exit(1)
		}
		defer registry.CloseMCP()
	}

	// Initialize LLM Client
	var client llm.LLMClient
	switch cfg.LLMClient {
	case "gemini":
		client, err = llm.NewGeminiLLMClient(ctx, cfg.Model)
	case "openai":
		client, err = llm.NewOpenAILLMClient(ctx, cfg.Model)
	case "anthropic":
		client, err = llm.NewAnthropicLLMClient(ctx, cfg.Model)
	case "bedrock":
		client, err = llm.NewBedrockLLMClient(ctx, cfg.Model)
	default:
		fmt.Fprintf(os.Stderr, "Unsupported LLM client '%s'. Must be 'openai', 'anthropic', 'gemini', or 'bedrock'.\n", cfg.LLMClient)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.LLMClient, err)
		os.Exit(1)
	}

	ag, err := agent.New(cfg, registry, client, *toolsetFlag, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	if *localFlag {
		runLocal(ctx, ag, *sessionFlag, *verboseFlag)
		return
	}

	authSvc := auth.NewService(cfg.OAuth, authStore)
	server := api.NewServer(cfg.Addr, ag, authSvc, cfg.OAuth.FrontendURL, log)
	log.Info("listening", "addr", cfg.Addr)
	if err := server.Start(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Server error: %+v\n", err)
		os.Exit(1)
	}
}

// runLocal starts the terminal REPL against a direct API token, bypassing
// the OAuth flow.
func runLocal(ctx context.Context, ag *agent.Agent, sessionName string, verbose bool) {
	token := os.Getenv("KLAVIYO_API_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "KLAVIYO_API_TOKEN must be set for -local mode.")
		os.Exit(1)
	}

	var sess *session.Session
	var err error
	if sessionName == "" {
		sessionName = defaultSessionName()
		sess, err = session.New(sessionName)
	} else if sess, err = session.Load(sessionName); err != nil {
		sess, err = session.New(sessionName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session '%s': %+v\n", sessionName, err)
		os.Exit(1)
	}
	fmt.Printf("Session: %s\n", sessionName)

	term := terminal.New(ag, token, sess, verbose)
	if err := term.Run(ctx, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func defaultSessionName() string {
	return "chat-" + time.Now().Format("20060102-150405")
}
