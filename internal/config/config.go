package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the manager daemon configuration.
type Config struct {
	ListenAddress        string // Address the REST API listens on
	DataDir              string // Directory for runtime data (TLS material, order keys)
	CertDir              string // Directory order private keys are written under
	HTTPSCertFile        string // Path to the HTTPS certificate file (empty for plain HTTP)
	HTTPSKeyFile         string // Path to the HTTPS private key file
	DBHost               string // PostgreSQL host
	DBUser               string // PostgreSQL user
	DBPassword           string // PostgreSQL password
	DBName               string // PostgreSQL database name
	DBPort               int    // PostgreSQL port
	DBSSLMode            string // PostgreSQL SSL mode
	JWTSecret            string // HMAC secret for account session tokens
	MaxConcurrentOrders  int64  // Bound on concurrently executing ACME orders
	HealthCheckSeconds   int    // Agent health check interval
	HealthTimeoutSeconds int    // Per-agent health check request timeout
	CloudflareAPIToken   string // Token for the Cloudflare DNS facade (empty disables it)
}

// AgentConfig holds the agent daemon configuration.
type AgentConfig struct {
	ListenAddress string   // Address the agent listens on
	Name          string   // Agent name registered with the manager
	Token         string   // Shared secret issued by the manager
	ManagerURL    string   // Base URL of the manager REST API
	PublicURL     string   // URL the manager uses to reach this agent
	Domains       []string // Domains this agent fronts
}

const (
	defaultListenAddress        = ":8080"
	defaultDataDir              = "./data"
	defaultCertDir              = "./data/certificates"
	defaultHTTPSCertFile        = ""
	defaultHTTPSKeyFile         = ""
	defaultDBHost               = "localhost"
	defaultDBUser               = "acmemanager"
	defaultDBPassword           = "password"
	defaultDBName               = "acmemanager"
	defaultDBPort               = 5432
	defaultDBSSLMode            = "disable"
	defaultJWTSecret            = "insecure-dev-secret-change-me"
	defaultMaxConcurrentOrders  = 4
	defaultHealthCheckSeconds   = 30
	defaultHealthTimeoutSeconds = 10

	defaultAgentListenAddress = ":8889"
	defaultAgentManagerURL    = "http://localhost:8080"
)

// LoadConfig loads the manager configuration from environment variables or
// defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddress:        getEnv("ACMEMANAGER_LISTEN_ADDRESS", defaultListenAddress),
		DataDir:              getEnv("ACMEMANAGER_DATA_DIR", defaultDataDir),
		CertDir:              getEnv("ACMEMANAGER_CERT_DIR", defaultCertDir),
		HTTPSCertFile:        getEnv("ACMEMANAGER_HTTPS_CERT_FILE", defaultHTTPSCertFile),
		HTTPSKeyFile:         getEnv("ACMEMANAGER_HTTPS_KEY_FILE", defaultHTTPSKeyFile),
		DBHost:               getEnv("ACMEMANAGER_DB_HOST", defaultDBHost),
		DBUser:               getEnv("ACMEMANAGER_DB_USER", defaultDBUser),
		DBPassword:           getEnv("ACMEMANAGER_DB_PASSWORD", defaultDBPassword),
		DBName:               getEnv("ACMEMANAGER_DB_NAME", defaultDBName),
		DBPort:               getEnvAsInt("ACMEMANAGER_DB_PORT", defaultDBPort),
		DBSSLMode:            getEnv("ACMEMANAGER_DB_SSLMODE", defaultDBSSLMode),
		JWTSecret:            getEnv("ACMEMANAGER_JWT_SECRET", defaultJWTSecret),
		MaxConcurrentOrders:  int64(getEnvAsInt("ACMEMANAGER_MAX_CONCURRENT_ORDERS", defaultMaxConcurrentOrders)),
		HealthCheckSeconds:   getEnvAsInt("ACMEMANAGER_HEALTH_CHECK_SECONDS", defaultHealthCheckSeconds),
		HealthTimeoutSeconds: getEnvAsInt("ACMEMANAGER_HEALTH_TIMEOUT_SECONDS", defaultHealthTimeoutSeconds),
		CloudflareAPIToken:   getEnv("ACMEMANAGER_CLOUDFLARE_API_TOKEN", ""),
	}
	return cfg, nil
}

// LoadAgentConfig loads the agent configuration from environment variables or
// defaults. Name defaults to the hostname.
func LoadAgentConfig() (*AgentConfig, error) {
	hostname, _ := os.Hostname()
	cfg := &AgentConfig{
		ListenAddress: getEnv("AGENT_LISTEN_ADDRESS", defaultAgentListenAddress),
		Name:          getEnv("AGENT_NAME", hostname),
		Token:         getEnv("AGENT_TOKEN", ""),
		ManagerURL:    getEnv("AGENT_MANAGER_URL", defaultAgentManagerURL),
		PublicURL:     getEnv("AGENT_PUBLIC_URL", ""),
		Domains:       getEnvAsSlice("AGENT_DOMAINS"),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
