package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"repairBack/internal/repair/store"
)

const defaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Directory struct {
		Admins         []int64               `yaml:"admins"`
		Couriers       []int64               `yaml:"couriers"`
		Categories     []string              `yaml:"categories"`
		ServiceCenters []store.ServiceCenter `yaml:"service_centers"`
	} `yaml:"directory"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH, or config/config.yaml.
func LoadConfig() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and checks a YAML config document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":4000"
	}
	if cfg.Database.URL != "" && cfg.Database.Driver == "" {
		return Config{}, fmt.Errorf("database.driver is required with database.url")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwt_secret is required")
	}
	if len(cfg.Directory.Admins) == 0 {
		return Config{}, fmt.Errorf("directory.admins must list at least one admin")
	}
	seen := make(map[int64]bool, len(cfg.Directory.ServiceCenters))
	for _, sc := range cfg.Directory.ServiceCenters {
		if sc.ID <= 0 || sc.Name == "" {
			return Config{}, fmt.Errorf("service center needs a positive id and a name: %+v", sc)
		}
		if seen[sc.ID] {
			return Config{}, fmt.Errorf("duplicate service center id %d", sc.ID)
		}
		seen[sc.ID] = true
	}
	return cfg, nil
}
