package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/certsig-backend/internal/data/register"
)

type Config struct {
	LogMode string `yaml:"logMode" envconfig:"LOG_MODE"`

	Port             int      `yaml:"port"             envconfig:"PORT"`
	PublicDir        string   `yaml:"publicDir"        envconfig:"PUBLIC_DIR"`
	CORSAllowOrigins []string `yaml:"corsAllowOrigins" envconfig:"CORS_ALLOW_ORIGINS"`

	RegisterBackend    string `yaml:"registerBackend"    envconfig:"REGISTER_BACKEND"`
	SerialRegisterFile string `yaml:"serialRegisterFile" envconfig:"SERIAL_REGISTER_FILE"`

	DatabaseDriver       string `yaml:"databaseDriver"       envconfig:"DATABASE_DRIVER"`
	DatabaseDSN          string `yaml:"databaseDsn"          envconfig:"DATABASE_DSN"`
	DatabaseMaxOpenConns int    `yaml:"databaseMaxOpenConns" envconfig:"DATABASE_MAX_OPEN_CONNS"`

	RedisAddr      string `yaml:"redisAddr"      envconfig:"REDIS_ADDR"`
	RedisPassword  string `yaml:"redisPassword"  envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `yaml:"redisDb"        envconfig:"REDIS_DB"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix" envconfig:"REDIS_KEY_PREFIX"`

	OutputRoot      string `yaml:"outputRoot"      envconfig:"OUTPUT_ROOT"`
	ImageAssetsDir  string `yaml:"imageAssetsDir"  envconfig:"IMAGE_ASSETS_DIR"`
	CertLogoFile    string `yaml:"certLogoFile"    envconfig:"CERT_LOGO_FILE"`
	CertSealFile    string `yaml:"certSealFile"    envconfig:"CERT_SEAL_FILE"`
	CertFontRegular string `yaml:"certFontRegular" envconfig:"CERT_FONT_REGULAR"`
	CertFontBold    string `yaml:"certFontBold"    envconfig:"CERT_FONT_BOLD"`
	CertBlockchain  string `yaml:"certBlockchain"  envconfig:"CERT_BLOCKCHAIN"`

	ArchiveGCSBucket     string `yaml:"archiveGcsBucket"     envconfig:"ARCHIVE_GCS_BUCKET"`
	ArchivePublicBaseURL string `yaml:"archivePublicBaseUrl" envconfig:"ARCHIVE_PUBLIC_BASE_URL"`
	ObjectStorageMode    string `yaml:"objectStorageMode"    envconfig:"OBJECT_STORAGE_MODE"`
	StorageEmulatorHost  string `yaml:"storageEmulatorHost"  envconfig:"STORAGE_EMULATOR_HOST"`
	GCPCredentials       string `yaml:"gcpCredentials"       envconfig:"GCP_CREDENTIALS"`

	MetricsEnabled bool `yaml:"metricsEnabled" envconfig:"METRICS_ENABLED"`

	OtelEnabled     bool        `yaml:"otelEnabled"     envconfig:"OTEL_ENABLED"`
	OtelServiceName string      `yaml:"otelServiceName" envconfig:"OTEL_SERVICE_NAME"`
	OtelEnvironment string      `yaml:"otelEnvironment" envconfig:"OTEL_ENVIRONMENT"`
	OtelEndpoint    string      `yaml:"otelEndpoint"    envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelHeaders     OTLPHeaders `yaml:"otelHeaders"     envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
	OtelInsecure    bool        `yaml:"otelInsecure"    envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
	OtelSampleRatio float64     `yaml:"otelSampleRatio" envconfig:"OTEL_TRACES_SAMPLER_ARG"`
}

func defaultConfig() Config {
	return Config{
		LogMode:            "development",
		Port:               3000,
		RegisterBackend:    register.BackendFile,
		SerialRegisterFile: "serial_register.csv",
		DatabaseDriver:     "postgres",
		RedisKeyPrefix:     "certsig:register",
		OutputRoot:         ".",
		ImageAssetsDir:     "images",
		CertLogoFile:       "proprime_logo.png",
		CertSealFile:       "seal.png",
		CertBlockchain:     "Polygon",
		OtelServiceName:    "certsig",
		OtelSampleRatio:    0.1,
	}
}

// LoadConfig starts from defaults, overlays the YAML file at path (if any) and
// then the environment.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("error processing environment: %w", err)
	}
	cfg.RegisterBackend = strings.ToLower(strings.TrimSpace(cfg.RegisterBackend))
	return cfg, nil
}

// OTLPHeaders decodes OTEL_EXPORTER_OTLP_HEADERS in the exporter's own
// format: comma separated key=value pairs with URL-encoded values.
type OTLPHeaders map[string]string

func (h *OTLPHeaders) Decode(value string) error {
	out := OTLPHeaders{}
	for _, pair := range strings.Split(value, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("invalid header %q: want key=value", pair)
		}
		dv, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid header %q: %w", k, err)
		}
		out[k] = dv
	}
	*h = out
	return nil
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Validate checks everything an issuance depends on, so a misconfigured
// process fails at startup rather than on its first request.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	switch c.RegisterBackend {
	case register.BackendFile:
		if err := readableFile(c.SerialRegisterFile); err != nil {
			errs = append(errs, fmt.Errorf("SERIAL_REGISTER_FILE: %w", err))
		}
	case register.BackendSQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the sql register"))
		}
	case register.BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis register"))
		}
	default:
		errs = append(errs, fmt.Errorf("REGISTER_BACKEND must be file, sql or redis, got %q", c.RegisterBackend))
	}

	if st, err := os.Stat(c.ImageAssetsDir); err != nil {
		errs = append(errs, fmt.Errorf("IMAGE_ASSETS_DIR: %w", err))
	} else if !st.IsDir() {
		errs = append(errs, fmt.Errorf("IMAGE_ASSETS_DIR: %s is not a directory", c.ImageAssetsDir))
	} else {
		for _, name := range []string{c.CertLogoFile, c.CertSealFile} {
			if err := readableFile(filepath.Join(c.ImageAssetsDir, name)); err != nil {
				errs = append(errs, fmt.Errorf("certificate asset: %w", err))
			}
		}
	}

	if (c.CertFontRegular == "") != (c.CertFontBold == "") {
		errs = append(errs, errors.New("CERT_FONT_REGULAR and CERT_FONT_BOLD must be set together"))
	}
	for _, f := range []string{c.CertFontRegular, c.CertFontBold} {
		if f == "" {
			continue
		}
		if err := readableFile(f); err != nil {
			errs = append(errs, fmt.Errorf("certificate font: %w", err))
		}
	}

	if strings.TrimSpace(c.OutputRoot) == "" {
		errs = append(errs, errors.New("OUTPUT_ROOT is required"))
	}
	return errors.Join(errs...)
}

// needsDatabase reports whether a SQL connection is opened: for the sql
// register, and for the audit trail whenever a DSN is configured.
func (c Config) needsDatabase() bool {
	return c.RegisterBackend == register.BackendSQL || strings.TrimSpace(c.DatabaseDSN) != ""
}

func readableFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
