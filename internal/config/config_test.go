package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
server:
  address: ":8080"
database:
  driver: pgx
  url: postgres://repair@localhost/repair
redis:
  addr: localhost:6379
auth:
  jwt_secret: s3cret
directory:
  admins: [1, 2]
  couriers: [5]
  categories: ["Телефон", "Ноутбук"]
  service_centers:
    - id: 10
      name: Fix Point
      phone: "+375 29 000-00-10"
      address: Minsk
`

func TestLoadConfigFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Database.Driver != "pgx" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Directory.Admins) != 2 || cfg.Directory.Couriers[0] != 5 {
		t.Fatalf("directory ids %+v", cfg.Directory)
	}
	sc := cfg.Directory.ServiceCenters[0]
	if sc.ID != 10 || sc.Name != "Fix Point" || sc.Address != "Minsk" {
		t.Fatalf("service center %+v", sc)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no secret":     "directory:\n  admins: [1]\n",
		"no admins":     "auth:\n  jwt_secret: x\n",
		"no driver":     "auth:\n  jwt_secret: x\ndirectory:\n  admins: [1]\ndatabase:\n  url: x\n",
		"duplicate sc":  "auth:\n  jwt_secret: x\ndirectory:\n  admins: [1]\n  service_centers:\n    - {id: 1, name: a}\n    - {id: 1, name: b}\n",
		"unnamed sc":    "auth:\n  jwt_secret: x\ndirectory:\n  admins: [1]\n  service_centers:\n    - {id: 1}\n",
		"broken yaml":   "auth: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseDefaultsAddress(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  jwt_secret: x\ndirectory:\n  admins: [1]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Address != ":4000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
}
