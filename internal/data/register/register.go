// Package register holds the serial register: a finite, ordered pool of
// certificate serials, each of which can be claimed exactly once.
//
// Implementations must make ClaimNext mutually exclusive end to end: the
// scan for the first available row and the write that marks it used form a
// single critical section.
package register

import (
	"context"
	"errors"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
)

const (
	BackendFile  = "file"
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

const claimOp = "claim serial"

// Table is the allocation table behind the serial register.
type Table interface {
	// Backend names the storage implementation ("file", "sql", "redis").
	Backend() string
	// ClaimNext marks the first available row (in persisted row order) as
	// used by claim and returns it after the change is durable.
	ClaimNext(ctx context.Context, claim certificate.Claim) (certificate.SerialRecord, error)
	// Records returns every row in allocation order.
	Records(ctx context.Context) ([]certificate.SerialRecord, error)
	Stats(ctx context.Context) (certificate.RegisterStats, error)
}

// Seeder is implemented by tables that can load serial rows created out of band.
type Seeder interface {
	// Seed appends records after the existing rows, skipping serials that are
	// already present, and returns how many rows were added.
	Seed(ctx context.Context, records []certificate.SerialRecord) (int, error)
}

func exhausted() error {
	return certificate.NewError(certificate.ErrRegisterExhausted, claimOp, nil)
}

func ioError(op string, err error) error {
	return certificate.NewError(certificate.ErrRegisterIO, op, err)
}

func statsOf(records []certificate.SerialRecord) certificate.RegisterStats {
	var st certificate.RegisterStats
	for _, r := range records {
		if r.Serial == "" {
			continue
		}
		st.Total++
		if r.Available() {
			st.Available++
		} else {
			st.Used++
		}
	}
	return st
}

// ErrSeedUnsupported is returned when seeding a table that only allows
// out-of-band creation, such as the file backend.
var ErrSeedUnsupported = errors.New("register backend does not support seeding")
