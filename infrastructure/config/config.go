package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSupabase = "supabase"
	StoreDynamoDB = "dynamodb"
)

// Auth modes
const (
	AuthSupabase = "supabase"
	AuthJWT      = "jwt"
)

// MaxHistorySize is the most messages the generator may be given per turn
const MaxHistorySize = 10

// Config holds all application configuration. Values come from, in
// increasing priority: defaults, the YAML file named by CONFIG_FILE, a .env
// file, and the process environment.
type Config struct {
	// Server configuration
	ServerAddress   string        `yaml:"server_address"`
	Environment     string        `yaml:"environment"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	FrontendURL     string        `yaml:"frontend_url"`

	// Identity provider
	AuthMode               string        `yaml:"auth_mode"`
	SupabaseURL            string        `yaml:"supabase_url"`
	SupabaseAnonKey        string        `yaml:"supabase_anon_key"`
	SupabaseServiceRoleKey string        `yaml:"supabase_service_role_key"`
	SupabaseJWTSecret      string        `yaml:"supabase_jwt_secret"`
	AuthTimeout            time.Duration `yaml:"auth_timeout"`
	AuthCacheTTL           time.Duration `yaml:"auth_cache_ttl"`

	// Storage
	StoreDriver      string `yaml:"store_driver"`
	DatabaseURL      string `yaml:"database_url"`
	DatabaseMaxConns int    `yaml:"database_max_conns"`

	// AWS configuration
	AWSRegion        string `yaml:"aws_region"`
	DynamoDBTable    string `yaml:"dynamodb_table"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	EventBusName     string `yaml:"event_bus_name"`
	EventSource      string `yaml:"event_source"`

	// Lambda configuration
	IsLambda bool `yaml:"is_lambda"`

	// Response generator
	GeneratorModel      string        `yaml:"generator_model"`
	GeneratorMinDelay   time.Duration `yaml:"generator_min_delay"`
	GeneratorMaxDelay   time.Duration `yaml:"generator_max_delay"`
	GeneratorTimeout    time.Duration `yaml:"generator_timeout"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`
	BreakerMinRequests  int           `yaml:"breaker_min_requests"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`
	HistorySize         int           `yaml:"conversation_history_size"`

	// Rate limiting, requests per minute; 0 disables
	RateLimitPerIP   int `yaml:"rate_limit_per_ip"`
	RateLimitPerUser int `yaml:"rate_limit_per_user"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Feature flags
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableCORS    bool `yaml:"enable_cors"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ServerAddress:   ":3001",
		Environment:     "development",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		FrontendURL:     "http://localhost:3000",

		AuthMode:     AuthSupabase,
		AuthTimeout:  5 * time.Second,
		AuthCacheTTL: 30 * time.Second,

		StoreDriver:      StoreMemory,
		DatabaseMaxConns: 4,

		AWSRegion:     "us-west-2",
		DynamoDBTable: "chat-backend",
		EventSource:   "chat-backend",

		GeneratorModel:      "stub-responder-v1",
		GeneratorMinDelay:   500 * time.Millisecond,
		GeneratorMaxDelay:   2 * time.Second,
		GeneratorTimeout:    10 * time.Second,
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  5,
		BreakerOpenTimeout:  30 * time.Second,
		HistorySize:         MaxHistorySize,

		RateLimitPerIP:   100,
		RateLimitPerUser: 200,

		LogLevel:      "info",
		EnableMetrics: true,
		EnableCORS:    true,
	}
}

// LoadConfig loads configuration from the optional YAML file, the optional
// .env file and environment variables, then validates it.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.ServerAddress = ":" + port
	}
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", getEnv("NODE_ENV", c.Environment))
	c.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)

	c.AuthMode = getEnv("AUTH_MODE", c.AuthMode)
	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseAnonKey = getEnv("SUPABASE_ANON_KEY", c.SupabaseAnonKey)
	c.SupabaseServiceRoleKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceRoleKey)
	c.SupabaseJWTSecret = getEnv("SUPABASE_JWT_SECRET", c.SupabaseJWTSecret)
	c.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", c.AuthTimeout)
	c.AuthCacheTTL = getEnvDuration("AUTH_CACHE_TTL", c.AuthCacheTTL)

	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DatabaseMaxConns = getEnvInt("DATABASE_MAX_CONNS", c.DatabaseMaxConns)

	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", c.DynamoDBTable))
	c.DynamoDBEndpoint = getEnv("DYNAMODB_ENDPOINT", c.DynamoDBEndpoint)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)
	c.EventSource = getEnv("EVENT_SOURCE", c.EventSource)

	c.IsLambda = getEnvBool("IS_LAMBDA", c.IsLambda || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "")

	c.GeneratorModel = getEnv("GENERATOR_MODEL", c.GeneratorModel)
	c.GeneratorMinDelay = getEnvDuration("GENERATOR_MIN_DELAY", c.GeneratorMinDelay)
	c.GeneratorMaxDelay = getEnvDuration("GENERATOR_MAX_DELAY", c.GeneratorMaxDelay)
	c.GeneratorTimeout = getEnvDuration("GENERATOR_TIMEOUT", c.GeneratorTimeout)
	c.BreakerFailureRatio = getEnvFloat("BREAKER_FAILURE_RATIO", c.BreakerFailureRatio)
	c.BreakerMinRequests = getEnvInt("BREAKER_MIN_REQUESTS", c.BreakerMinRequests)
	c.BreakerOpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", c.BreakerOpenTimeout)
	c.HistorySize = getEnvInt("CONVERSATION_HISTORY_SIZE", c.HistorySize)

	c.RateLimitPerIP = getEnvInt("RATE_LIMIT_PER_IP", c.RateLimitPerIP)
	c.RateLimitPerUser = getEnvInt("RATE_LIMIT_PER_USER", c.RateLimitPerUser)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required for auth mode %q", c.AuthMode)
		}
	case AuthJWT:
		if c.SupabaseJWTSecret == "" {
			return fmt.Errorf("SUPABASE_JWT_SECRET is required for auth mode %q", c.AuthMode)
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	switch c.StoreDriver {
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", c.StoreDriver)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver %q", c.StoreDriver)
		}
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey() == "" {
			return fmt.Errorf("SUPABASE_URL and a Supabase key are required for store driver %q", c.StoreDriver)
		}
	case StoreDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for store driver %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.GeneratorMinDelay < 0 || c.GeneratorMaxDelay < c.GeneratorMinDelay {
		return fmt.Errorf("generator delay range [%s, %s] is invalid", c.GeneratorMinDelay, c.GeneratorMaxDelay)
	}
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be positive")
	}
	if c.HistorySize <= 0 || c.HistorySize > MaxHistorySize {
		return fmt.Errorf("CONVERSATION_HISTORY_SIZE must be between 1 and %d", MaxHistorySize)
	}

	return nil
}

// SupabaseKey is the key used for server-side table access: the service role
// key when present, the anon key otherwise.
func (c *Config) SupabaseKey() string {
	if c.SupabaseServiceRoleKey != "" {
		return c.SupabaseServiceRoleKey
	}
	return c.SupabaseAnonKey
}

// CORSOrigins returns the allowed CORS origins.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
