package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "CATALOG_DRIVER", "CATALOG_OVERWRITE", "QUERY_WHERE", "HTTP_TIMEOUT", "CACHE_ENABLED"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.Catalog.Driver != "sqlite" || !cfg.Catalog.Overwrite {
		t.Fatalf("catalog defaults wrong: %+v", cfg.Catalog)
	}
	if cfg.QueryWhere != "CATEGORY=1" {
		t.Fatalf("QueryWhere=%q", cfg.QueryWhere)
	}
	if cfg.HTTPTimeout != 5*time.Minute {
		t.Fatalf("HTTPTimeout=%v", cfg.HTTPTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CATALOG_DRIVER", "POSTGRES")
	t.Setenv("CATALOG_OVERWRITE", "no")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")

	cfg := FromEnv()
	if cfg.Catalog.Driver != "postgres" || cfg.Catalog.Overwrite {
		t.Fatalf("catalog=%+v", cfg.Catalog)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Fatalf("TTL=%v", cfg.Cache.TTL)
	}
	if got := cfg.Events.BrokerList(); len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("brokers=%v", got)
	}
}

func TestLoadFile_OverlaysAndExpands(t *testing.T) {
	t.Setenv("CLIPSHIP_REDIS", "redis:6379")
	dir := t.TempDir()
	path := filepath.Join(dir, "clipship.yaml")
	body := `
log_level: debug
query_where: "CATEGORY=1 AND Cloud < 20"
cache:
  enabled: true
  redis_addr: ${CLIPSHIP_REDIS}
  ttl: 2m
events:
  topic: ${MISSING_TOPIC:-ingest-dev}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	base := FromEnv()
	cfg, err := LoadFile(path, base)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel=%q", cfg.LogLevel)
	}
	if cfg.QueryWhere != "CATEGORY=1 AND Cloud < 20" {
		t.Fatalf("QueryWhere=%q", cfg.QueryWhere)
	}
	if !cfg.Cache.Enabled || cfg.Cache.RedisAddr != "redis:6379" || cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("cache=%+v", cfg.Cache)
	}
	if cfg.Events.Topic != "ingest-dev" {
		t.Fatalf("topic=%q", cfg.Events.Topic)
	}
	if cfg.Clip.GdalwarpBin != base.Clip.GdalwarpBin {
		t.Fatalf("unset key must keep base value, got %q", cfg.Clip.GdalwarpBin)
	}
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	cfg := FromEnv()
	cfg.Catalog.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestParseArgs(t *testing.T) {
	args := []string{
		"https://host/arcgis/rest/services/Imagery/ImageServer",
		"/tmp/out", "/tmp/out/ship.sqlite", "md", "/tmp/aoi.geojson",
		"10", "true", "0", "false",
	}
	p, err := ParseArgs(args)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if p.CellSize != 10 || !p.Clip || p.UseRendering || p.NoData != 0 {
		t.Fatalf("unexpected params %+v", p)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	good := []string{"svc", "out", "cat", "md", "aoi", "10", "true", "0", "false"}
	cases := map[string]func([]string) []string{
		"too few":        func(a []string) []string { return a[:5] },
		"bad cellsize":   func(a []string) []string { a[5] = "ten"; return a },
		"zero cellsize":  func(a []string) []string { a[5] = "0"; return a },
		"bad clip flag":  func(a []string) []string { a[6] = "maybe"; return a },
		"bad nodata":     func(a []string) []string { a[7] = "x"; return a },
		"empty service":  func(a []string) []string { a[0] = " "; return a },
		"empty cat name": func(a []string) []string { a[3] = ""; return a },
		"bad cat name":   func(a []string) []string { a[3] = "1 md"; return a },
		"long cat name":  func(a []string) []string { a[3] = "m" + strings.Repeat("d", 63); return a },
	}
	for name, mut := range cases {
		args := mut(append([]string(nil), good...))
		if _, err := ParseArgs(args); !errors.Is(err, ErrUsage) {
			t.Fatalf("%s: expected ErrUsage, got %v", name, err)
		}
	}
}
