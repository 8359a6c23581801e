package register

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// FileTable keeps the register in a delimited text file. Claims are
// serialized by a process-wide mutex and committed by atomically replacing
// the file, so only one FileTable may own a given path.
type FileTable struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex

	createTemp func(dir, pattern string) (*os.File, error)
}

// NewFileTable opens the register at path and fails if it cannot be read.
func NewFileTable(path string, log *logger.Logger) (*FileTable, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ioError("open register", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, ioError("open register", err)
	}
	_ = f.Close()
	return &FileTable{
		path:       abs,
		log:        log.With("repo", "FileRegister", "path", abs),
		createTemp: os.CreateTemp,
	}, nil
}

func (t *FileTable) Backend() string { return BackendFile }

func (t *FileTable) Path() string { return t.path }

func (t *FileTable) ClaimNext(ctx context.Context, claim certificate.Claim) (certificate.SerialRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return certificate.SerialRecord{}, ioError(claimOp, err)
	}
	rows, mode, err := t.load()
	if err != nil {
		return certificate.SerialRecord{}, err
	}

	idx := -1
	for i := 1; i < len(rows); i++ {
		if rowToRecord(rows[i]).Available() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return certificate.SerialRecord{}, exhausted()
	}

	rec := claim.Apply(rowToRecord(rows[idx]))
	updated := make([][]string, len(rows))
	copy(updated, rows)
	updated[idx] = recordToRow(rec, rows[idx])

	if err := t.store(updated, mode); err != nil {
		t.log.Error("Register write failed; claim not committed", "serial", rec.Serial, "error", err)
		return certificate.SerialRecord{}, err
	}
	t.log.Debug("Serial claimed", "serial", rec.Serial, "row", idx)
	return rec, nil
}

func (t *FileTable) Records(ctx context.Context) ([]certificate.SerialRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, ioError("read register", err)
	}
	recs, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, ioError("read register", err)
	}
	return recs, nil
}

func (t *FileTable) Stats(ctx context.Context) (certificate.RegisterStats, error) {
	recs, err := t.Records(ctx)
	if err != nil {
		return certificate.RegisterStats{}, err
	}
	return statsOf(recs), nil
}

func (t *FileTable) load() ([][]string, os.FileMode, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		return nil, 0, ioError("read register", err)
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, 0, ioError("read register", err)
	}
	rows, err := parseRows(data)
	if err != nil {
		return nil, 0, ioError("read register", err)
	}
	return rows, info.Mode().Perm(), nil
}

// store replaces the register with rows via write-to-temp, fsync and rename,
// so a failed write never leaves a partially updated table behind.
func (t *FileTable) store(rows [][]string, mode os.FileMode) error {
	data, err := encodeRows(rows)
	if err != nil {
		return ioError("write register", err)
	}
	tmp, err := t.createTemp(filepath.Dir(t.path), "."+filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return ioError("write register", err)
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return ioError("write register", cause)
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return ioError("write register", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		_ = os.Remove(tmpName)
		return ioError("write register", fmt.Errorf("replace %s: %w", t.path, err))
	}
	return nil
}
