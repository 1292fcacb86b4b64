package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/errors"
	"gopkg.in/yaml.v3"
)

// MCPServer describes an external MCP server whose tools may be offered to
// the model alongside the built-in Klaviyo tools.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Toolset names the tools the model is allowed to call. Entries may be plain
// tool names or doublestar patterns matching MCP tools ("crm.*").
type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Klaviyo holds upstream API settings. Revision is the dated API revision
// header Klaviyo requires on every call.
type Klaviyo struct {
	BaseURL        string        `yaml:"base_url"`
	Revision       string        `yaml:"revision"`
	Timeout        time.Duration `yaml:"timeout"`
	DefaultFrom    string        `yaml:"default_from_email"`
	DefaultFromLbl string        `yaml:"default_from_label"`
}

// OAuth holds the Klaviyo OAuth application settings. ClientID and
// ClientSecret fall back to KLAVIYO_CLIENT_ID / KLAVIYO_CLIENT_SECRET.
type OAuth struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	FrontendURL  string `yaml:"frontend_url"`
	// TokenURL overrides the Klaviyo token endpoint, mainly for tests.
	TokenURL string `yaml:"token_url"`
}

// Storage selects the backing stores. Driver "memory" needs no settings;
// "mysql" requires DSN for the installation store and "redis" enables the
// expiring pending-action and identity caches.
type Storage struct {
	Driver    string        `yaml:"driver"`
	MySQLDSN  string        `yaml:"mysql_dsn"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	RedisPass string        `yaml:"redis_password"`
	ActionTTL time.Duration `yaml:"action_ttl"`
}

type Config struct {
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`

	// AllowStatelessExecute permits execute_action to synthesize an action
	// from literal fields when the approval id is unknown. This tolerates a
	// restart having wiped pending approvals at the cost of weakening the
	// approval gate; operators who want a hard gate set it to false.
	AllowStatelessExecute bool `yaml:"allow_stateless_execute"`

	Klaviyo              Klaviyo     `yaml:"klaviyo"`
	OAuth                OAuth       `yaml:"oauth"`
	Storage              Storage     `yaml:"storage"`
	Toolsets             []Toolset   `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".nexus", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".nexus", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFile loads a single explicit config file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LLMClient:             "openai",
		Model:                 "gpt-4-turbo",
		Addr:                  ":8000",
		LogLevel:              "info",
		AllowStatelessExecute: true,
		Klaviyo: Klaviyo{
			BaseURL:        "https://a.klaviyo.com",
			Revision:       "2024-10-15",
			Timeout:        10 * time.Second,
			DefaultFrom:    "hello@example.com",
			DefaultFromLbl: "The Team",
		},
		OAuth: OAuth{
			RedirectURI: "http://localhost:8000/auth/callback",
			FrontendURL: "http://localhost:3000",
		},
		Storage: Storage{
			Driver:    "memory",
			ActionTTL: time.Hour,
		},
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// applyEnv lets secrets and sender defaults come from the environment so
// they stay out of config files.
func applyEnv(cfg *Config) {
	if v := os.Getenv("KLAVIYO_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("KLAVIYO_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("KLAVIYO_REDIRECT_URI"); v != "" {
		cfg.OAuth.RedirectURI = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.OAuth.FrontendURL = v
	}
	if v := os.Getenv("NEXUS_FROM_EMAIL"); v != "" {
		cfg.Klaviyo.DefaultFrom = v
	}
	if v := os.Getenv("NEXUS_FROM_LABEL"); v != "" {
		cfg.Klaviyo.DefaultFromLbl = v
	}
	if v := os.Getenv("NEXUS_MYSQL_DSN"); v != "" {
		cfg.Storage.MySQLDSN = v
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. A missing default
// toolset means every registered tool is active.
func (c *Config) GetToolset(name string) *Toolset {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts
		}
	}
	if name == "default" {
		return nil
	}
	return c.GetToolset("default")
}
