package app

import (
	"context"
	"fmt"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/data/repos"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
	"github.com/yungbote/certsig-backend/internal/services"
)

type Services struct {
	Assets *services.AssetCache
	Store  *services.ArtifactStore
	Issuer services.CertificateIssuer
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, clients Clients, table register.Table, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	assets, err := services.NewAssetCache(ctx, log, services.AssetOptions{
		Dir:         cfg.ImageAssetsDir,
		LogoFile:    cfg.CertLogoFile,
		SealFile:    cfg.CertSealFile,
		FontRegular: cfg.CertFontRegular,
		FontBold:    cfg.CertFontBold,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init certificate assets: %w", err)
	}

	store, err := services.NewArtifactStore(cfg.OutputRoot, log)
	if err != nil {
		return Services{}, fmt.Errorf("init artifact store: %w", err)
	}

	var events repos.IssuanceEventRepo
	if clients.DB != nil {
		events = repos.NewIssuanceEventRepo(clients.DB.DB(), log)
	}

	issuer, err := services.NewCertificateIssuer(log, services.IssuerDeps{
		Register:   table,
		Assets:     assets,
		Assembler:  services.NewAssembler(log),
		Store:      store,
		Archiver:   services.NewArchiver(clients.Archive, log, metrics),
		Events:     events,
		Metrics:    metrics,
		Blockchain: cfg.CertBlockchain,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init certificate issuer: %w", err)
	}

	return Services{Assets: assets, Store: store, Issuer: issuer}, nil
}
