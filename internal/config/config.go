package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
// Значения читаются один раз при старте; компоненты считают их неизменными.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	Storage    StorageConfig    `yaml:"storage"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Content    ContentConfig    `yaml:"content"`
	WorldGen   WorldGenConfig   `yaml:"worldgen"`
	Logging    LoggingConfig    `yaml:"logging"`
	Debug      DebugConfig      `yaml:"debug"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
	// DedicatedServerStep - длительность тика симуляции в секундах
	DedicatedServerStep float64    `yaml:"dedicated_server_step"`
	Auth                AuthConfig `yaml:"auth"`
}

// AuthConfig - доступ к административному API по JWT
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Secret - ключ подписи в base64 (не короче 32 байт); пусто - случайный на время процесса
	Secret            string `yaml:"secret"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"` // bcrypt
	TokenTTLMinutes   int    `yaml:"token_ttl_minutes"`
}

// SimulationConfig настройки активной симуляции
type SimulationConfig struct {
	ActiveBlockRange            int     `yaml:"active_block_range"`
	ActiveObjectSendRangeBlocks int     `yaml:"active_object_send_range_blocks"`
	ActiveBlockShape            string  `yaml:"active_block_shape"` // cube | sphere
	ActiveBlockMgmtInterval     float64 `yaml:"active_block_mgmt_interval"`
	ABMInterval                 float64 `yaml:"abm_interval"`
	ABMTimeBudget               float64 `yaml:"abm_time_budget"`
	NodeTimerInterval           float64 `yaml:"nodetimer_interval"`
	UnloadUnusedDataTimeout     float64 `yaml:"server_unload_unused_data_timeout"`
	// PlayerTransferDistance в блоках; 0 - другие игроки видны на любом расстоянии
	PlayerTransferDistance int `yaml:"player_transfer_distance"`
	EnableABMs                  bool    `yaml:"enable_abms"`
	EnableLBMs                  bool    `yaml:"enable_lbms"`
	// StepHeight в нодах; движку столкновений передается StepHeight*BS
	StepHeight          float64 `yaml:"step_height"`
	FallDamageTolerance float64 `yaml:"fall_damage_tolerance"`
	ObjectCollisions    bool    `yaml:"object_collisions"`
	MaxObjectsPerBlock  int     `yaml:"max_objects_per_block"`
	Seed                int64   `yaml:"seed"`
}

// StorageConfig выбирает бэкенд хранения блоков
type StorageConfig struct {
	Backend       string `yaml:"backend"` // badger | redis | mysql | sqlite | mongo | memory
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	// AutosaveSeconds - период сброса измененных блоков
	AutosaveSeconds int         `yaml:"autosave_seconds"`
	Cache           CacheConfig `yaml:"cache"`
}

// CacheConfig - кэш сериализованных блоков перед хранилищем
type CacheConfig struct {
	Backend    string `yaml:"backend"` // "" (выключен) | local | redis
	MaxBytes   int64  `yaml:"max_bytes"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	RedisAddr  string `yaml:"redis_addr"`
	// InvalidationURL - адрес NATS для рассылки инвалидаций; пусто - без рассылки
	InvalidationURL string `yaml:"invalidation_url"`
	NodeID          string `yaml:"node_id"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type ContentConfig struct {
	// File - YAML с определениями нод; пусто - встроенный набор
	File string `yaml:"file"`
}

type WorldGenConfig struct {
	Seed       int64 `yaml:"seed"`
	Workers    int   `yaml:"workers"`
	WaterLevel int   `yaml:"water_level"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	// Levels - пороги отдельных подсистем, например collision: error
	Levels map[string]string `yaml:"levels"`
}

type DebugConfig struct {
	DetectDeadlocks bool `yaml:"detect_deadlocks"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DedicatedServerStep: 0.1,
		},
		Simulation: SimulationConfig{
			ActiveBlockRange:            3,
			ActiveObjectSendRangeBlocks: 8,
			ActiveBlockShape:            "cube",
			ActiveBlockMgmtInterval:     2.0,
			ABMInterval:                 1.0,
			ABMTimeBudget:               0.2,
			NodeTimerInterval:           0.2,
			UnloadUnusedDataTimeout:     29,
			EnableABMs:                  true,
			EnableLBMs:                  true,
			StepHeight:                  0.6,
			FallDamageTolerance:         3.0,
			ObjectCollisions:            true,
			MaxObjectsPerBlock:          64,
		},
		Storage: StorageConfig{
			Backend:         "badger",
			Path:            "world",
			RedisAddr:       "localhost:6379",
			MongoDatabase:   "freeminer",
			AutosaveSeconds: 60,
			Cache: CacheConfig{
				MaxBytes:   64 << 20,
				TTLSeconds: 300,
			},
		},
		EventBus: EventBusConfig{
			Backend:   "memory",
			Stream:    "FREEMINER_EVENTS",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "freeminer-server",
		},
		WorldGen: WorldGenConfig{
			Workers:    2,
			WaterLevel: 1,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "FREEMINER_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "FREEMINER_METRICS_PORT", 2112)
}

// GetDSN возвращает строку подключения SQL бэкенда: config -> env
func (s *StorageConfig) GetDSN() string {
	return getStringWithEnvFallback(s.DSN, "FREEMINER_STORAGE_DSN")
}

// GetMongoURI возвращает URI MongoDB: config -> env -> localhost
func (s *StorageConfig) GetMongoURI() string {
	if uri := getStringWithEnvFallback(s.MongoURI, "FREEMINER_MONGO_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// GetSecret возвращает ключ подписи токенов: config -> env FREEMINER_JWT_SECRET
func (a *AuthConfig) GetSecret() string {
	return getStringWithEnvFallback(a.Secret, "FREEMINER_JWT_SECRET")
}

// GetURL возвращает адрес NATS: config -> env NATS_URL
func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "NATS_URL")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

func getStringWithEnvFallback(value, envVar string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envVar)
}

// Normalize приводит значения к допустимым диапазонам.
// Отрицательные радиусы обнуляются здесь, а не в компонентах симуляции.
func (c *Config) Normalize() {
	s := &c.Simulation
	if s.ActiveBlockRange < 0 {
		s.ActiveBlockRange = 0
	}
	if s.ActiveObjectSendRangeBlocks < 0 {
		s.ActiveObjectSendRangeBlocks = 0
	}
	s.ActiveBlockShape = strings.ToLower(strings.TrimSpace(s.ActiveBlockShape))
	if s.ActiveBlockShape != "sphere" {
		s.ActiveBlockShape = "cube"
	}
	if s.ActiveBlockMgmtInterval <= 0 {
		s.ActiveBlockMgmtInterval = 2.0
	}
	if s.ABMInterval <= 0 {
		s.ABMInterval = 1.0
	}
	if s.ABMTimeBudget <= 0 || s.ABMTimeBudget > 1 {
		s.ABMTimeBudget = 0.2
	}
	if s.NodeTimerInterval <= 0 {
		s.NodeTimerInterval = 0.2
	}
	if s.UnloadUnusedDataTimeout <= 0 {
		s.UnloadUnusedDataTimeout = 29
	}
	if s.PlayerTransferDistance < 0 {
		s.PlayerTransferDistance = 0
	}
	if s.StepHeight < 0 {
		s.StepHeight = 0
	}
	if s.FallDamageTolerance < 0 {
		s.FallDamageTolerance = 0
	}
	if s.MaxObjectsPerBlock < 0 {
		s.MaxObjectsPerBlock = 0
	}
	if c.Server.Auth.TokenTTLMinutes <= 0 {
		c.Server.Auth.TokenTTLMinutes = 60
	}
	if c.Server.Auth.AdminUser == "" {
		c.Server.Auth.AdminUser = "admin"
	}
	if c.Server.DedicatedServerStep <= 0 {
		c.Server.DedicatedServerStep = 0.1
	}
	if c.WorldGen.Workers < 1 {
		c.WorldGen.Workers = 1
	}
	if c.Storage.AutosaveSeconds < 0 {
		c.Storage.AutosaveSeconds = 0
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "badger"
	}
	c.Storage.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Cache.Backend))
	if c.Storage.Cache.TTLSeconds < 0 {
		c.Storage.Cache.TTLSeconds = 0
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV FREEMINER_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("FREEMINER_CONFIG")
		if path == "" {
			cfg.Normalize()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	cfg.Normalize()
	return cfg, nil
}
