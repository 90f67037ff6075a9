// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Telegram                `yaml:"telegram"`
	RabbitMQ                `yaml:"rabbitmq"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// Telegram структура с настройками бота и фоновой сверки членств
type Telegram struct {
	BotToken          string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env-default:"10s"`
	InviteTTL         time.Duration `yaml:"invite_ttl" env-default:"15m"`
	InviteMemberLimit int           `yaml:"invite_member_limit" env-default:"1"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval" env-default:"60s"`
}

// RabbitMQ структура для настройки публикации событий аудита.
// URL может быть пустым, тогда публикация отключена.
type RabbitMQ struct {
	URL           string `yaml:"url"`
	AuditExchange string `yaml:"audit_exchange" env-default:"audit"`
}

// MustLoad функция для загрузки конфига, путь берется из переменной окружения CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  User: %s\n"+
			"  DB: %d\n"+
			"  MaxRetries: %d\n"+
			"  DialTimeout: %s\n"+
			"  Timeout: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Telegram:\n"+
			"  RequestTimeout: %s\n"+
			"  InviteTTL: %s\n"+
			"  InviteMemberLimit: %d\n"+
			"  SchedulerInterval: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"  AuditExchange: %s\n",
		c.Env,
		c.StorageConnectionString,
		c.AddressRedis,
		c.User,
		c.DB,
		c.MaxRetries,
		c.DialTimeout,
		c.TimeoutRedis,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.RequestTimeout,
		c.InviteTTL,
		c.InviteMemberLimit,
		c.SchedulerInterval,
		c.URL,
		c.AuditExchange,
	)
}
