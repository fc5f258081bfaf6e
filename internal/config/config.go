package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"development"` // environment
	HTTPServer HTTPServerConfig `yaml:"http_server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Iyzipay    IyzipayConfig    `yaml:"iyzipay"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	Commission CommissionConfig `yaml:"commission"`
	NATS       NATSConfig       `yaml:"nats"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// IyzipayConfig - доступ к платёжному провайдеру; ключи только из окружения
type IyzipayConfig struct {
	BaseURL     string        `yaml:"base_url" env-default:"https://api.iyzipay.com"`
	APIKey      string        `yaml:"-" env:"IYZIPAY_API_KEY" env-required:"true"`
	SecretKey   string        `yaml:"-" env:"IYZIPAY_SECRET" env-required:"true"`
	Locale      string        `yaml:"locale" env-default:"tr"`
	Currency    string        `yaml:"currency" env-default:"TRY"`
	CallbackURL string        `yaml:"callback_url" env-default:"http://localhost:8080/api/checkout"` // + /{orderID}/3ds
	Timeout     time.Duration `yaml:"timeout" env-default:"30s"`
}

// CheckoutConfig настройка цикла оформления
type CheckoutConfig struct {
	AdvanceAttempts int           `yaml:"advance_attempts" env-default:"3"`
	LockTimeout     time.Duration `yaml:"lock_timeout" env-default:"10s"`
}

// CommissionConfig - комиссия площадки и провайдера, строки разбираются в decimal
type CommissionConfig struct {
	StaticFee     string `yaml:"static_fee" env-default:"0.25"`
	PercentageFee string `yaml:"percentage_fee" env-default:"0.0729"`
}

// NATSConfig - пустой URL отключает публикацию событий
type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env-default:"orders.completed"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
