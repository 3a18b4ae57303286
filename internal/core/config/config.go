package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type CatalogCfg struct {
	Driver    string `yaml:"driver"`
	Overwrite bool   `yaml:"overwrite"`
}

type ClipCfg struct {
	GdalwarpBin string `yaml:"gdalwarp_bin"`
	Ogr2ogrBin  string `yaml:"ogr2ogr_bin"`
}

type CacheCfg struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	LRUSize   int           `yaml:"lru_size"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type EventsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	Queue   int    `yaml:"queue"`
}

type OpsCfg struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Config struct {
	LogLevel    string        `yaml:"log_level"`
	LogConsole  bool          `yaml:"log_console"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	QueryWhere  string        `yaml:"query_where"`
	Catalog     CatalogCfg    `yaml:"catalog"`
	Clip        ClipCfg       `yaml:"clip"`
	Cache       CacheCfg      `yaml:"cache"`
	Events      EventsCfg     `yaml:"events"`
	Ops         OpsCfg        `yaml:"ops"`
}

func FromEnv() Config {
	return Config{
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		HTTPTimeout: getduration("HTTP_TIMEOUT", 5*time.Minute),
		QueryWhere:  getenv("QUERY_WHERE", "CATEGORY=1"),
		Catalog: CatalogCfg{
			Driver:    strings.ToLower(getenv("CATALOG_DRIVER", "sqlite")),
			Overwrite: getbool("CATALOG_OVERWRITE", true),
		},
		Clip: ClipCfg{
			GdalwarpBin: getenv("GDALWARP_BIN", "gdalwarp"),
			Ogr2ogrBin:  getenv("OGR2OGR_BIN", "ogr2ogr"),
		},
		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", ""),
			TTL:       getduration("CACHE_TTL", 15*time.Minute),
			LRUSize:   getint("CACHE_LRU_SIZE", 64),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "clipship-ingest"),
			Queue:   getint("EVENTS_QUEUE", 256),
		},
		Ops: OpsCfg{
			Enabled: getbool("OPS_ENABLED", false),
			Addr:    getenv("OPS_ADDR", ":9090"),
		},
	}
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep their base value. ${VAR} and ${VAR:-default} are expanded first.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	data = expandEnvVars(data)

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Catalog.Driver = strings.ToLower(strings.TrimSpace(cfg.Catalog.Driver))
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Catalog.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("catalog.driver must be sqlite or postgres, got %q", c.Catalog.Driver)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	if strings.TrimSpace(c.QueryWhere) == "" {
		return fmt.Errorf("query_where is required")
	}
	if c.Cache.Enabled && c.Cache.LRUSize <= 0 && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache enabled but neither lru_size nor redis_addr is set")
	}
	if c.Events.Enabled && strings.TrimSpace(c.Events.Brokers) == "" {
		return fmt.Errorf("events enabled but no brokers configured")
	}
	return nil
}

// BrokerList splits the comma separated broker setting.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, ok := ParseBool(v); ok {
			return b
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func ParseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, true
	case "0", "f", "false", "n", "no", "off":
		return false, true
	}
	return false, false
}
