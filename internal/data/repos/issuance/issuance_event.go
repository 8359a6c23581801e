package issuance

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/platform/dbctx"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type IssuanceEventRepo interface {
	Create(dbc dbctx.Context, events []*certificate.IssuanceEvent) ([]*certificate.IssuanceEvent, error)
	ListBySerial(dbc dbctx.Context, serial string) ([]*certificate.IssuanceEvent, error)
	ListByStatus(dbc dbctx.Context, status certificate.IssuanceStatus, limit int) ([]*certificate.IssuanceEvent, error)
}

type issuanceEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIssuanceEventRepo(db *gorm.DB, baseLog *logger.Logger) IssuanceEventRepo {
	return &issuanceEventRepo{db: db, log: baseLog.With("repo", "IssuanceEventRepo")}
}

func (r *issuanceEventRepo) Create(dbc dbctx.Context, events []*certificate.IssuanceEvent) ([]*certificate.IssuanceEvent, error) {
	if len(events) == 0 {
		return []*certificate.IssuanceEvent{}, nil
	}
	now := time.Now().UTC()
	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
	}
	if err := dbc.Conn(r.db).Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *issuanceEventRepo) ListBySerial(dbc dbctx.Context, serial string) ([]*certificate.IssuanceEvent, error) {
	var results []*certificate.IssuanceEvent
	if serial == "" {
		return results, nil
	}
	if err := dbc.Conn(r.db).
		Where("serial = ?", serial).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *issuanceEventRepo) ListByStatus(dbc dbctx.Context, status certificate.IssuanceStatus, limit int) ([]*certificate.IssuanceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var results []*certificate.IssuanceEvent
	if err := dbc.Conn(r.db).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
