package app

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func validConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "serial_register.csv"), "serial,issuedDate,ownerSurname,userId,used\n1010,,,,\n")
	writeFile(t, filepath.Join(dir, "images", "proprime_logo.png"), "png")
	writeFile(t, filepath.Join(dir, "images", "seal.png"), "png")

	cfg := defaultConfig()
	cfg.SerialRegisterFile = filepath.Join(dir, "serial_register.csv")
	cfg.ImageAssetsDir = filepath.Join(dir, "images")
	cfg.OutputRoot = filepath.Join(dir, "out")
	return cfg
}

func TestLoadConfigLayersYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certsig.yaml")
	writeFile(t, path, strings.Join([]string{
		"port: 8080",
		"registerBackend: SQL",
		"databaseDsn: file:certsig.db",
		"certBlockchain: Amoy",
		"corsAllowOrigins: [https://a.example]",
	}, "\n"))
	t.Setenv("PORT", "9090")
	t.Setenv("CERT_BLOCKCHAIN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc,authorization=Bearer%20t0k")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("port: want=9090 got=%d", cfg.Port)
	}
	if cfg.RegisterBackend != "sql" {
		t.Fatalf("register backend: want=%q got=%q", "sql", cfg.RegisterBackend)
	}
	if cfg.DatabaseDSN != "file:certsig.db" {
		t.Fatalf("database dsn: got=%q", cfg.DatabaseDSN)
	}
	if cfg.CertBlockchain != "" {
		t.Fatalf("blockchain: empty env should override yaml, got=%q", cfg.CertBlockchain)
	}
	if want := []string{"https://a.example"}; !reflect.DeepEqual(cfg.CORSAllowOrigins, want) {
		t.Fatalf("cors origins: want=%v got=%v", want, cfg.CORSAllowOrigins)
	}
	wantHeaders := OTLPHeaders{"x-api-key": "abc", "authorization": "Bearer t0k"}
	if !reflect.DeepEqual(cfg.OtelHeaders, wantHeaders) {
		t.Fatalf("otlp headers: want=%v got=%v", wantHeaders, cfg.OtelHeaders)
	}
	if cfg.CertLogoFile != "proprime_logo.png" {
		t.Fatalf("logo default: got=%q", cfg.CertLogoFile)
	}
	if cfg.Addr() != ":9090" {
		t.Fatalf("addr: want=%q got=%q", ":9090", cfg.Addr())
	}
}

func TestOTLPHeadersDecode(t *testing.T) {
	cases := []struct {
		in      string
		want    OTLPHeaders
		wantErr bool
	}{
		{in: "", want: OTLPHeaders{}},
		{in: "a=1", want: OTLPHeaders{"a": "1"}},
		{in: " a = 1 , b=x=y ,", want: OTLPHeaders{"a": "1", "b": "x=y"}},
		{in: "k=a+b%2Cc", want: OTLPHeaders{"k": "a+b,c"}},
		{in: "x-api-key:abc", wantErr: true},
		{in: "=v", wantErr: true},
		{in: "k=%zz", wantErr: true},
	}
	for _, tc := range cases {
		var got OTLPHeaders
		err := got.Decode(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Decode(%q): expected error, got=%v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Decode(%q): %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Decode(%q): want=%v got=%v", tc.in, tc.want, got)
		}
	}
}

func TestLoadConfigRejectsMalformedOTLPHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key:abc")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for colon separated header")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateAcceptsCompleteFileConfig(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateFailsFast(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing register file", func(c *Config) { c.SerialRegisterFile = filepath.Join(t.TempDir(), "nope.csv") }, "SERIAL_REGISTER_FILE"},
		{"missing seal", func(c *Config) { c.CertSealFile = "absent.png" }, "certificate asset"},
		{"assets dir missing", func(c *Config) { c.ImageAssetsDir = filepath.Join(t.TempDir(), "nope") }, "IMAGE_ASSETS_DIR"},
		{"unknown backend", func(c *Config) { c.RegisterBackend = "mongo" }, "REGISTER_BACKEND"},
		{"sql without dsn", func(c *Config) { c.RegisterBackend = "sql"; c.DatabaseDSN = "" }, "DATABASE_DSN"},
		{"redis without addr", func(c *Config) { c.RegisterBackend = "redis" }, "REDIS_ADDR"},
		{"half a font pair", func(c *Config) { c.CertFontRegular = "regular.ttf" }, "CERT_FONT_BOLD"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate: want error mentioning %q got=%v", tc.want, err)
			}
		})
	}
}

func TestNeedsDatabase(t *testing.T) {
	cfg := defaultConfig()
	if cfg.needsDatabase() {
		t.Fatalf("file register without dsn should not need a database")
	}
	cfg.DatabaseDSN = "postgres://x"
	if !cfg.needsDatabase() {
		t.Fatalf("a dsn enables the audit trail database")
	}
	cfg = defaultConfig()
	cfg.RegisterBackend = "sql"
	if !cfg.needsDatabase() {
		t.Fatalf("sql register needs a database")
	}
}
