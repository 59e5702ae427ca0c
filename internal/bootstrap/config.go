package bootstrap

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	AppEnv   string // 应用环境 (development/production)
	LogLevel string

	ServerPort        string
	CORSAllowedOrigin string

	DBDriver   string // mysql, postgres, memory
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	JWTSecret      string
	JWTExpiryHours int

	RateLimitMax    int
	RateLimitWindow time.Duration

	PresenceGrace         time.Duration
	PresenceSweepInterval time.Duration
}

var configDefaults = map[string]interface{}{
	"APP_ENV":                 "development",
	"LOG_LEVEL":               "info",
	"SERVER_PORT":             "8080",
	"CORS_ALLOWED_ORIGIN":     "http://localhost:3000",
	"DB_DRIVER":               "mysql",
	"DB_HOST":                 "127.0.0.1",
	"DB_PORT":                 "",
	"DB_USER":                 "",
	"DB_PASSWORD":             "",
	"DB_NAME":                 "planning_poker",
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"REDIS_KEY_PREFIX":        "pp:",
	"JWT_SECRET":              "",
	"JWT_EXPIRY_HOURS":        12,
	"RATE_LIMIT_MAX":          100,
	"RATE_LIMIT_WINDOW":       "1s",
	"PRESENCE_GRACE":          "30s",
	"PRESENCE_SWEEP_INTERVAL": "15s",
}

// LoadConfig 加载 .env (如果存在) 后从环境变量读取配置
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		AppEnv:                v.GetString("APP_ENV"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		ServerPort:            v.GetString("SERVER_PORT"),
		CORSAllowedOrigin:     v.GetString("CORS_ALLOWED_ORIGIN"),
		DBDriver:              v.GetString("DB_DRIVER"),
		DBHost:                v.GetString("DB_HOST"),
		DBPort:                v.GetString("DB_PORT"),
		DBUser:                v.GetString("DB_USER"),
		DBPassword:            v.GetString("DB_PASSWORD"),
		DBName:                v.GetString("DB_NAME"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		KeyPrefix:             v.GetString("REDIS_KEY_PREFIX"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		JWTExpiryHours:        v.GetInt("JWT_EXPIRY_HOURS"),
		RateLimitMax:          v.GetInt("RATE_LIMIT_MAX"),
		RateLimitWindow:       v.GetDuration("RATE_LIMIT_WINDOW"),
		PresenceGrace:         v.GetDuration("PRESENCE_GRACE"),
		PresenceSweepInterval: v.GetDuration("PRESENCE_SWEEP_INTERVAL"),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch cfg.DBDriver {
	case "mysql", "postgres", "memory":
	default:
		return nil, fmt.Errorf("DB_DRIVER must be one of mysql, postgres, memory (got %q)", cfg.DBDriver)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.PresenceGrace <= 0 || cfg.PresenceSweepInterval <= 0 {
		return nil, fmt.Errorf("PRESENCE_GRACE and PRESENCE_SWEEP_INTERVAL must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// NewLogger 按配置创建 logger，并同步设置全局 logrus (各组件通过 logrus.WithFields 记录日志)
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}
