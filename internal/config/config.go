package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	AppEnv            string
	AppName           string
	GatewayPort       string
	MetricsPort       string
	LogLevel          string
	AllowedOrigins    string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:         os.Getenv("APP_ENV"),
		AppName:        os.Getenv("APP_NAME"),
		GatewayPort:    os.Getenv("GATEWAY_PORT"),
		MetricsPort:    os.Getenv("METRICS_PORT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		AllowedOrigins: os.Getenv("WS_ALLOWED_ORIGINS"),
		RedisHost:      os.Getenv("REDIS_HOST"),
		RedisPort:      os.Getenv("REDIS_PORT"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.AppName == "" {
		cfg.AppName = "chatty-gateway"
	}
	if cfg.GatewayPort == "" {
		cfg.GatewayPort = "8090"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		cfg.RedisPoolSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		cfg.RedisMinIdleConns, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MAX_RETRIES"); v != "" {
		cfg.RedisMaxRetries, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
		}
	}
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required environment variable REDIS_HOST")
	}
	return cfg, nil
}
