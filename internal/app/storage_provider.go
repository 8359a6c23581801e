package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/gcp"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

var newArchiveBucket = gcp.NewArchiveBucket

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorInvalidPublicBase   StorageProviderBootstrapErrorCode = "invalid_public_base_url"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveArchiveBucket selects and connects the certificate archive.
func resolveArchiveBucket(ctx context.Context, log *logger.Logger, cfg Config) (gcp.ArchiveBucket, error) {
	storageCfg, err := gcp.ResolveObjectStorageConfig(
		cfg.ObjectStorageMode,
		cfg.StorageEmulatorHost,
		cfg.ArchivePublicBaseURL,
		cfg.GCPCredentials,
	)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storageCfg, err)
		log.Error(
			"Object storage provider selection failed",
			"mode", storageCfg.Mode,
			"mode_source", storageCfg.ModeSource(),
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}

	log.Info(
		"Selecting object storage provider",
		"bucket", cfg.ArchiveGCSBucket,
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
	)

	bucket, err := newArchiveBucket(ctx, log, cfg.ArchiveGCSBucket, storageCfg)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storageCfg, err)
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", storageCfg.Mode,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	return bucket, nil
}

func classifyStorageProviderBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidPublicBase:
			code = StorageProviderBootstrapErrorInvalidPublicBase
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageProviderBootstrapErrorConnectFailed
}

// resolveRegister opens the serial register for the configured backend and
// wraps it with claim metrics and tracing.
func resolveRegister(log *logger.Logger, cfg Config, clients Clients, metrics *observability.Metrics) (register.Table, error) {
	var table register.Table
	switch cfg.RegisterBackend {
	case register.BackendFile:
		t, err := register.NewFileTable(cfg.SerialRegisterFile, log)
		if err != nil {
			return nil, err
		}
		table = t
	case register.BackendSQL:
		if clients.DB == nil {
			return nil, fmt.Errorf("sql register needs a database connection")
		}
		table = register.NewSQLTable(clients.DB.DB(), log, metrics)
	case register.BackendRedis:
		if clients.Redis == nil {
			return nil, fmt.Errorf("redis register needs REDIS_ADDR")
		}
		table = register.NewRedisTable(clients.Redis, cfg.RedisKeyPrefix, log, metrics)
	default:
		return nil, fmt.Errorf("unsupported register backend %q", cfg.RegisterBackend)
	}
	log.Info("Serial register selected", "backend", table.Backend())
	return register.Instrument(table, metrics), nil
}

// openImportSource opens a CSV register for import.
func openImportSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import source: %w", err)
	}
	return f, nil
}
