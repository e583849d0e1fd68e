package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string `json:"serverAddress"`
	// ServiceBaseURL is the externally reachable URL of this server, baked
	// into issued passes as their web service URL.
	ServiceBaseURL string    `json:"serviceBaseUrl"`
	DatabasePath   string    `json:"databasePath"`
	DatabaseURL    string    `json:"databaseUrl"`
	Artifacts      Artifacts `json:"artifacts"`
	Security       Security  `json:"security"`
	APNS           APNS      `json:"apns"`
	Producer       Producer  `json:"producer"`
	Updates        Updates   `json:"updates"`
}

// Artifacts configures where signed pass blobs live
type Artifacts struct {
	BasePath string `json:"basePath"`
}

// Security configuration for the admin API
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// APNS configures the push gateway connection
type APNS struct {
	KeyPath              string `json:"keyPath"`
	KeyID                string `json:"keyId"`
	TeamID               string `json:"teamId"`
	Host                 string `json:"host"`
	RequestTimeoutSecs   int    `json:"requestTimeoutSeconds"`
	TokenLifetimeMinutes int    `json:"tokenLifetimeMinutes"`
}

// Producer configures the external pass-signing service
type Producer struct {
	URL         string `json:"url"`
	TimeoutSecs int    `json:"timeoutSeconds"`
}

// Updates configures the notification fan-out
type Updates struct {
	Workers     int `json:"workers"`
	MaxAttempts int `json:"maxAttempts"`
	BackoffMs   int `json:"backoffMs"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress:  ":5000",
		ServiceBaseURL: "http://localhost:5000",
		DatabasePath:   "passhub.db",
		Artifacts: Artifacts{
			BasePath: "./artifacts",
		},
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		APNS: APNS{
			Host:                 "api.push.apple.com",
			RequestTimeoutSecs:   10,
			TokenLifetimeMinutes: 50,
		},
		Producer: Producer{
			TimeoutSecs: 30,
		},
		Updates: Updates{
			Workers:     8,
			MaxAttempts: 3,
			BackoffMs:   500,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if baseURL := os.Getenv("SERVICE_BASE_URL"); baseURL != "" {
		cfg.ServiceBaseURL = baseURL
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if basePath := os.Getenv("ARTIFACT_STORAGE_PATH"); basePath != "" {
		cfg.Artifacts.BasePath = basePath
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	// APNs configuration
	if keyPath := os.Getenv("APNS_KEY_PATH"); keyPath != "" {
		cfg.APNS.KeyPath = keyPath
	}
	if keyID := os.Getenv("APNS_KEY_ID"); keyID != "" {
		cfg.APNS.KeyID = keyID
	}
	if teamID := os.Getenv("APNS_TEAM_ID"); teamID != "" {
		cfg.APNS.TeamID = teamID
	}
	if host := os.Getenv("APNS_HOST"); host != "" {
		cfg.APNS.Host = host
	}

	// Producer configuration
	if url := os.Getenv("PRODUCER_URL"); url != "" {
		cfg.Producer.URL = url
	}

	// Fan-out tuning
	if workers := os.Getenv("UPDATE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Updates.Workers = n
		}
	}
	if attempts := os.Getenv("UPDATE_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			cfg.Updates.MaxAttempts = n
		}
	}

	// Ensure artifact storage directory exists
	if err := os.MkdirAll(cfg.Artifacts.BasePath, 0755); err != nil {
		return nil, err
	}

	// Make base path absolute
	absPath, err := filepath.Abs(cfg.Artifacts.BasePath)
	if err != nil {
		return nil, err
	}
	cfg.Artifacts.BasePath = absPath

	return cfg, nil
}
