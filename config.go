package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalTimeout = 30 * time.Second

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	RedditClientID     string `yaml:"reddit_client_id"`
	RedditClientSecret string `yaml:"reddit_client_secret"`
	RedditUsername     string `yaml:"reddit_username"`
	RedditPassword     string `yaml:"reddit_password"`
	RedditUserAgent    string `yaml:"reddit_user_agent"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	DBPath string `yaml:"db_path"`

	DefaultItemLimit       int `yaml:"default_item_limit"`
	ApplyPauseSeconds      int `yaml:"apply_pause_seconds"`
	BatchPauseSeconds      int `yaml:"batch_pause_seconds"`
	ExternalTimeoutSeconds int `yaml:"external_timeout_seconds"`

	MonitorSchedule  string   `yaml:"monitor_schedule"`
	MonitorChannels  []string `yaml:"monitor_channels"`
	MonitorItemLimit int      `yaml:"monitor_item_limit"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.RedditClientID, "REDDIT_CLIENT_ID")
	envOverride(&cfg.RedditClientSecret, "REDDIT_CLIENT_SECRET")
	envOverride(&cfg.RedditUsername, "REDDIT_USERNAME")
	envOverride(&cfg.RedditPassword, "REDDIT_PASSWORD")
	envOverride(&cfg.RedditUserAgent, "REDDIT_USER_AGENT")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.DefaultItemLimit, "DEFAULT_ITEM_LIMIT")
	envOverrideInt(&cfg.ApplyPauseSeconds, "APPLY_PAUSE_SECONDS")
	envOverrideInt(&cfg.BatchPauseSeconds, "BATCH_PAUSE_SECONDS")
	envOverrideInt(&cfg.ExternalTimeoutSeconds, "EXTERNAL_TIMEOUT_SECONDS")
	envOverride(&cfg.MonitorSchedule, "MONITOR_SCHEDULE")
	envOverrideInt(&cfg.MonitorItemLimit, "MONITOR_ITEM_LIMIT")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")

	if names := os.Getenv("MONITOR_CHANNELS"); names != "" {
		cfg.MonitorChannels = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.MonitorChannels = append(cfg.MonitorChannels, name)
			}
		}
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./modbot.db"
	}
	if cfg.DefaultItemLimit == 0 {
		cfg.DefaultItemLimit = 5
	}
	if cfg.ApplyPauseSeconds == 0 {
		cfg.ApplyPauseSeconds = 2
	}
	if cfg.BatchPauseSeconds == 0 {
		cfg.BatchPauseSeconds = 1
	}
	if cfg.ExternalTimeoutSeconds == 0 {
		cfg.ExternalTimeoutSeconds = int(defaultExternalTimeout / time.Second)
	}
	if cfg.MonitorItemLimit == 0 {
		cfg.MonitorItemLimit = cfg.DefaultItemLimit
	}
	if cfg.RedditUserAgent == "" {
		cfg.RedditUserAgent = "web:modbot-moderation-dashboard:v1.0"
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.DefaultItemLimit < 1 {
		log.Fatalf("invalid default_item_limit '%d': must be >= 1", cfg.DefaultItemLimit)
	}
	if cfg.ApplyPauseSeconds < 0 || cfg.BatchPauseSeconds < 0 {
		log.Fatalf("apply_pause_seconds and batch_pause_seconds must be >= 0")
	}
	if cfg.ExternalTimeoutSeconds < 1 {
		log.Fatalf("invalid external_timeout_seconds '%d': must be >= 1", cfg.ExternalTimeoutSeconds)
	}
	if cfg.MonitorSchedule != "" && len(cfg.MonitorChannels) == 0 {
		log.Fatalf("monitor_schedule is set but monitor_channels is empty")
	}

	return cfg
}

// ScriptCredsConfigured reports whether the script-app credential grant can
// be used (for /api/authenticate and the scheduled monitor).
func (c Config) ScriptCredsConfigured() bool {
	return c.RedditClientID != "" && c.RedditClientSecret != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSeconds) * time.Second
}

func (c Config) ApplyPause() time.Duration {
	return time.Duration(c.ApplyPauseSeconds) * time.Second
}

func (c Config) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseSeconds) * time.Second
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
