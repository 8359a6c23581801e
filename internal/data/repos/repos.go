package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/certsig-backend/internal/data/repos/issuance"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type IssuanceEventRepo = issuance.IssuanceEventRepo

func NewIssuanceEventRepo(db *gorm.DB, log *logger.Logger) IssuanceEventRepo {
	return issuance.NewIssuanceEventRepo(db, log)
}
