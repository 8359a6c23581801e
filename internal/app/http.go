package app

import (
	"github.com/yungbote/certsig-backend/internal/data/register"
	httpx "github.com/yungbote/certsig-backend/internal/http"
	httpH "github.com/yungbote/certsig-backend/internal/http/handlers"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type Handlers struct {
	Certificate *httpH.CertificateHandler
	Register    *httpH.RegisterHandler
	Health      *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, svcs Services, table register.Table) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Certificate: httpH.NewCertificateHandler(httpH.CertificateHandlerDeps{
			Log:    log,
			Issuer: svcs.Issuer,
			Store:  svcs.Store,
		}),
		Register: httpH.NewRegisterHandler(log, table),
		Health:   httpH.NewHealthHandler(),
	}
}

func wireServer(log *logger.Logger, cfg Config, h Handlers, metrics *observability.Metrics) *httpx.Server {
	serviceName := ""
	if cfg.OtelEnabled {
		serviceName = cfg.OtelServiceName
	}
	return httpx.NewServer(httpx.RouterConfig{
		CertificateHandler: h.Certificate,
		RegisterHandler:    h.Register,
		HealthHandler:      h.Health,
		Log:                log,
		Metrics:            metrics,
		ServiceName:        serviceName,
		CORSOrigins:        cfg.CORSAllowOrigins,
		PublicDir:          cfg.PublicDir,
	})
}
