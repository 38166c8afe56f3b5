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

// Aggregation modes
const (
	ModeInline = "inline" // API process aggregates on its own worker pool
	ModeKafka  = "kafka"  // API publishes requests, cmd/aggregator consumes them
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	HTTP        HTTPConfig        `yaml:"http"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Grid        GridConfig        `yaml:"grid"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Cache       CacheConfig       `yaml:"cache"`
	Privacy     PrivacyConfig     `yaml:"privacy"`
	Retention   RetentionConfig   `yaml:"retention"`
}

type DatabaseConfig struct {
	Backend       string `yaml:"backend"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	DBName        string `yaml:"dbname"`
	SSLMode       string `yaml:"sslmode"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig configures the result cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	TopicAggregation string   `yaml:"topic_aggregation"`
	GroupID          string   `yaml:"group_id"`
	NumPartitions    int      `yaml:"num_partitions"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MQTTConfig configures the device feed. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

type GridConfig struct {
	Resolution int `yaml:"resolution"`
}

type IngestionConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

type AggregationConfig struct {
	Mode               string        `yaml:"mode"`
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	SearchRadiusMeters float64       `yaml:"search_radius_meters"`
	Window             time.Duration `yaml:"window"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	RefreshLimit       int           `yaml:"refresh_limit"`
}

type CacheConfig struct {
	NavigationTTL time.Duration `yaml:"navigation_ttl"`
	HeatmapTTL    time.Duration `yaml:"heatmap_ttl"`
}

type PrivacyConfig struct {
	Salt                string `yaml:"salt"`
	CoordinatePrecision int    `yaml:"coordinate_precision"`
}

type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:       BackendPostgres,
			Host:          "localhost",
			Port:          5432,
			User:          "signal_user",
			Password:      "signal_pass",
			DBName:        "signaltrail",
			SSLMode:       "disable",
			MaxOpenConns:  25,
			MaxIdleConns:  5,
			MigrationsDir: "migrations",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			TopicAggregation: "signal.aggregation.requests",
			GroupID:          "signal-aggregator",
			NumPartitions:    10,
		},
		HTTP: HTTPConfig{
			Port:            8000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		MQTT: MQTTConfig{
			Topic:    "signaltrail/readings/+",
			ClientID: "signaltrail-api",
			QoS:      1,
		},
		Grid: GridConfig{
			Resolution: 10,
		},
		Ingestion: IngestionConfig{
			MaxBatchSize: 100,
		},
		Aggregation: AggregationConfig{
			Mode:               ModeInline,
			Workers:            4,
			QueueSize:          1000,
			SearchRadiusMeters: 20,
			Window:             7 * 24 * time.Hour,
			RefreshInterval:    5 * time.Minute,
			StaleAfter:         time.Hour,
			RefreshLimit:       500,
		},
		Cache: CacheConfig{
			NavigationTTL: 2 * time.Minute,
			HeatmapTTL:    5 * time.Minute,
		},
		Privacy: PrivacyConfig{
			CoordinatePrecision: 5,
		},
		Retention: RetentionConfig{
			MaxAge:   90 * 24 * time.Hour,
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// SIGNALTRAIL_CONFIG and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := Defaults()

	if path := os.Getenv("SIGNALTRAIL_CONFIG"); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Database.Backend = getEnv("STORE_BACKEND", c.Database.Backend)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", c.Database.MigrationsDir)

	if addr, ok := os.LookupEnv("REDIS_ADDR"); ok {
		c.Redis.Addr = addr
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.TopicAggregation = getEnv("KAFKA_TOPIC_AGGREGATION", c.Kafka.TopicAggregation)
	c.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.NumPartitions = getEnvAsInt("KAFKA_NUM_PARTITIONS", c.Kafka.NumPartitions)

	c.HTTP.Port = getEnvAsInt("HTTP_PORT", c.HTTP.Port)
	c.HTTP.ReadTimeout = getEnvAsDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = getEnvAsDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.ShutdownTimeout = getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.QoS = getEnvAsInt("MQTT_QOS", c.MQTT.QoS)

	c.Grid.Resolution = getEnvAsInt("GRID_RESOLUTION", c.Grid.Resolution)
	c.Ingestion.MaxBatchSize = getEnvAsInt("INGEST_MAX_BATCH_SIZE", c.Ingestion.MaxBatchSize)

	c.Aggregation.Mode = getEnv("AGGREGATION_MODE", c.Aggregation.Mode)
	c.Aggregation.Workers = getEnvAsInt("AGGREGATION_WORKERS", c.Aggregation.Workers)
	c.Aggregation.QueueSize = getEnvAsInt("AGGREGATION_QUEUE_SIZE", c.Aggregation.QueueSize)
	c.Aggregation.SearchRadiusMeters = getEnvAsFloat("AGGREGATION_SEARCH_RADIUS_METERS", c.Aggregation.SearchRadiusMeters)
	c.Aggregation.Window = getEnvAsDuration("AGGREGATION_WINDOW", c.Aggregation.Window)
	c.Aggregation.RefreshInterval = getEnvAsDuration("AGGREGATION_REFRESH_INTERVAL", c.Aggregation.RefreshInterval)
	c.Aggregation.StaleAfter = getEnvAsDuration("AGGREGATION_STALE_AFTER", c.Aggregation.StaleAfter)
	c.Aggregation.RefreshLimit = getEnvAsInt("AGGREGATION_REFRESH_LIMIT", c.Aggregation.RefreshLimit)

	c.Cache.NavigationTTL = getEnvAsDuration("CACHE_NAVIGATION_TTL", c.Cache.NavigationTTL)
	c.Cache.HeatmapTTL = getEnvAsDuration("CACHE_HEATMAP_TTL", c.Cache.HeatmapTTL)

	c.Privacy.Salt = getEnv("PRIVACY_SALT", c.Privacy.Salt)
	c.Privacy.CoordinatePrecision = getEnvAsInt("PRIVACY_COORDINATE_PRECISION", c.Privacy.CoordinatePrecision)

	c.Retention.MaxAge = getEnvAsDuration("RETENTION_MAX_AGE", c.Retention.MaxAge)
	c.Retention.Interval = getEnvAsDuration("RETENTION_INTERVAL", c.Retention.Interval)
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Privacy.Salt == "" {
		errs = append(errs, errors.New("PRIVACY_SALT is required"))
	}
	if c.Privacy.CoordinatePrecision < 0 || c.Privacy.CoordinatePrecision > 10 {
		errs = append(errs, fmt.Errorf("coordinate precision %d out of range [0,10]", c.Privacy.CoordinatePrecision))
	}
	if c.Grid.Resolution < 0 || c.Grid.Resolution > 15 {
		errs = append(errs, fmt.Errorf("grid resolution %d out of range [0,15]", c.Grid.Resolution))
	}
	if c.Ingestion.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max batch size must be positive"))
	}
	if c.Aggregation.Workers <= 0 || c.Aggregation.QueueSize <= 0 {
		errs = append(errs, errors.New("aggregation workers and queue size must be positive"))
	}
	if c.Aggregation.SearchRadiusMeters <= 0 || c.Aggregation.Window <= 0 {
		errs = append(errs, errors.New("aggregation search radius and window must be positive"))
	}
	if c.Aggregation.Mode != ModeInline && c.Aggregation.Mode != ModeKafka {
		errs = append(errs, fmt.Errorf("unknown aggregation mode %q", c.Aggregation.Mode))
	}
	if c.Database.Backend != BackendPostgres && c.Database.Backend != BackendMemory {
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Database.Backend))
	}
	if c.Aggregation.Mode == ModeKafka && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka mode requires KAFKA_BROKERS"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
