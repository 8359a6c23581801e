package http

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/certsig-backend/internal/http/handlers"
	httpMW "github.com/yungbote/certsig-backend/internal/http/middleware"
	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type RouterConfig struct {
	CertificateHandler *httpH.CertificateHandler
	RegisterHandler    *httpH.RegisterHandler
	HealthHandler      *httpH.HealthHandler

	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string
	// PublicDir holds the static form page; empty disables static serving.
	PublicDir string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// Issuance
	if cfg.CertificateHandler != nil {
		r.POST("/generate", cfg.CertificateHandler.Generate)
	}

	api := r.Group("/api")
	{
		if cfg.RegisterHandler != nil {
			api.GET("/register/status", cfg.RegisterHandler.Status)
		}
	}

	if dir := strings.TrimSpace(cfg.PublicDir); dir != "" {
		mountPublic(r, dir)
	}
	return r
}

// mountPublic serves the static form. Unknown paths fall through to the
// directory so the form's own assets resolve.
func mountPublic(r *gin.Engine, dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err == nil {
		r.GET("/", func(c *gin.Context) { c.File(index) })
	}
	fs := gin.Dir(dir, false)
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != "GET" && c.Request.Method != "HEAD" {
			c.Status(404)
			return
		}
		c.FileFromFS(c.Request.URL.Path, fs)
	})
}
