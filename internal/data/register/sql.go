package register

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

// SerialRow is the SQL representation of one register row. Position fixes
// allocation order; Version is bumped on every claim for compare-and-swap.
type SerialRow struct {
	ID           uint   `gorm:"primaryKey"`
	Position     int    `gorm:"not null;uniqueIndex"`
	Serial       string `gorm:"size:128;not null;uniqueIndex"`
	IssuedDate   string `gorm:"size:10;not null;default:''"`
	OwnerSurname string `gorm:"size:255;not null;default:''"`
	UserID       string `gorm:"size:255;not null;default:'';index"`
	Used         string `gorm:"size:8;not null;default:'';index"`
	Version      int    `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SerialRow) TableName() string { return "serial_register" }

func (r SerialRow) record() certificate.SerialRecord {
	return certificate.SerialRecord{
		Serial:       r.Serial,
		IssuedDate:   r.IssuedDate,
		OwnerSurname: r.OwnerSurname,
		UserID:       r.UserID,
		Used:         r.Used,
	}
}

// DefaultMaxClaimAttempts bounds optimistic retries before a claim is
// reported as a register failure.
const DefaultMaxClaimAttempts = 16

// SQLTable keeps the register in a SQL table shared by many processes.
// Claims select the first available row and commit with a conditional
// update on its version; losing a race retries against the next candidate.
type SQLTable struct {
	db          *gorm.DB
	log         *logger.Logger
	metrics     *observability.Metrics
	maxAttempts int
}

func NewSQLTable(db *gorm.DB, log *logger.Logger, metrics *observability.Metrics) *SQLTable {
	return &SQLTable{
		db:          db,
		log:         log.With("repo", "SQLRegister"),
		metrics:     metrics,
		maxAttempts: DefaultMaxClaimAttempts,
	}
}

func (t *SQLTable) Backend() string { return BackendSQL }

// AutoMigrate creates the register table if it does not exist.
func (t *SQLTable) AutoMigrate() error {
	return t.db.AutoMigrate(&SerialRow{})
}

func (t *SQLTable) ClaimNext(ctx context.Context, claim certificate.Claim) (certificate.SerialRecord, error) {
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		var row SerialRow
		err := t.db.WithContext(ctx).
			Where("serial <> ? AND used <> ?", "", certificate.UsedMarker).
			Order("position ASC").
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return certificate.SerialRecord{}, exhausted()
		}
		if err != nil {
			return certificate.SerialRecord{}, ioError(claimOp, err)
		}

		rec := claim.Apply(row.record())
		res := t.db.WithContext(ctx).
			Model(&SerialRow{}).
			Where("id = ? AND version = ? AND used <> ?", row.ID, row.Version, certificate.UsedMarker).
			Updates(map[string]any{
				"issued_date":   rec.IssuedDate,
				"owner_surname": rec.OwnerSurname,
				"user_id":       rec.UserID,
				"used":          rec.Used,
				"version":       row.Version + 1,
			})
		if res.Error != nil {
			return certificate.SerialRecord{}, ioError(claimOp, res.Error)
		}
		if res.RowsAffected == 1 {
			return rec, nil
		}
		t.metrics.IncClaimConflict(BackendSQL)
		t.log.Debug("Claim lost race, retrying", "serial", row.Serial, "attempt", attempt)
	}
	return certificate.SerialRecord{}, ioError(claimOp, fmt.Errorf("no claim committed after %d attempts", t.maxAttempts))
}

func (t *SQLTable) Records(ctx context.Context) ([]certificate.SerialRecord, error) {
	var rows []SerialRow
	if err := t.db.WithContext(ctx).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, ioError("read register", err)
	}
	out := make([]certificate.SerialRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (t *SQLTable) Stats(ctx context.Context) (certificate.RegisterStats, error) {
	var total, used int64
	base := t.db.WithContext(ctx).Model(&SerialRow{}).Where("serial <> ?", "")
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return certificate.RegisterStats{}, ioError("count register", err)
	}
	if err := base.Session(&gorm.Session{}).Where("used = ?", certificate.UsedMarker).Count(&used).Error; err != nil {
		return certificate.RegisterStats{}, ioError("count register", err)
	}
	return certificate.RegisterStats{
		Total:     int(total),
		Used:      int(used),
		Available: int(total - used),
	}, nil
}

func (t *SQLTable) Seed(ctx context.Context, records []certificate.SerialRecord) (int, error) {
	inserted := 0
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPos int
		if err := tx.Model(&SerialRow{}).Select("COALESCE(MAX(position), 0)").Scan(&maxPos).Error; err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Serial == "" {
				continue
			}
			row := SerialRow{
				Position:     maxPos + 1,
				Serial:       rec.Serial,
				IssuedDate:   rec.IssuedDate,
				OwnerSurname: rec.OwnerSurname,
				UserID:       rec.UserID,
				Used:         rec.Used,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "serial"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				maxPos++
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, ioError("seed register", err)
	}
	return inserted, nil
}
