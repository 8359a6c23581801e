package register

import (
	"context"
	"fmt"
	"io"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
)

// ImportResult reports the outcome of loading a CSV register into a table.
type ImportResult struct {
	Read     int `json:"read"`
	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Consumed int `json:"consumed"`
}

// Import seeds t with the rows of a CSV register read from r. Rows keep their
// file order and their used state, so a partially consumed register can be
// migrated without re-issuing serials.
func Import(ctx context.Context, t Table, r io.Reader) (ImportResult, error) {
	var res ImportResult
	seeder, ok := t.(Seeder)
	if !ok {
		return res, ErrSeedUnsupported
	}
	records, err := ReadCSV(r)
	if err != nil {
		return res, fmt.Errorf("read register csv: %w", err)
	}
	res.Read = len(records)
	if err := checkDuplicates(records); err != nil {
		return res, err
	}
	for _, rec := range records {
		if !rec.Available() {
			res.Consumed++
		}
	}
	added, err := seeder.Seed(ctx, records)
	if err != nil {
		return res, err
	}
	res.Added = added
	res.Skipped = res.Read - added
	return res, nil
}

func checkDuplicates(records []certificate.SerialRecord) error {
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		if prev, ok := seen[rec.Serial]; ok {
			return fmt.Errorf("duplicate serial %q at rows %d and %d", rec.Serial, prev+2, i+2)
		}
		seen[rec.Serial] = i
	}
	return nil
}
