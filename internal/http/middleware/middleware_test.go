package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/certsig-backend/internal/observability"
	"github.com/yungbote/certsig-backend/internal/platform/ctxutil"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

func TestAttachTraceContextKeepsCallerRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen != "req-123" {
		t.Fatalf("request id in context: want=%q got=%q", "req-123", seen)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-123" {
		t.Fatalf("request id header: want=%q got=%q", "req-123", got)
	}
	if rec.Header().Get(headerTraceID) == "" {
		t.Fatalf("trace id header should always be set")
	}
}

func TestAttachTraceContextGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if got := rec.Header().Get(headerRequestID); len(got) != 36 {
		t.Fatalf("generated request id: want uuid got=%q", got)
	}
}

func TestRequestLoggerLevelsAndFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(&logger.Logger{SugaredLogger: zap.New(core).Sugar()}))
	r.POST("/generate", func(c *gin.Context) {
		c.Set(ContextKeySerial, "1010")
		_ = c.Error(errors.New("disk full"))
		c.Status(http.StatusInternalServerError)
	})
	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/generate", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	entries := logs.FilterMessage("HTTP request").All()
	if len(entries) != 3 {
		t.Fatalf("log entries: want=3 got=%d", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.ErrorLevel, zapcore.InfoLevel, zapcore.WarnLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level: want=%v got=%v", i, wantLevels[i], e.Level)
		}
	}

	failed := entries[0].ContextMap()
	if failed["serial"] != "1010" {
		t.Fatalf("serial field: want=%q got=%v", "1010", failed["serial"])
	}
	if errStr, _ := failed["error"].(string); !strings.Contains(errStr, "disk full") {
		t.Fatalf("error field: got=%v", failed["error"])
	}
	if failed["path"] != "/generate" || failed["request_id"] == nil {
		t.Fatalf("path/request id fields: got=%v", failed)
	}
	if _, ok := entries[1].ContextMap()["serial"]; ok {
		t.Fatalf("serial should only be logged when a handler set it")
	}
	if entries[2].ContextMap()["path"] != "/nope" {
		t.Fatalf("unmatched path: got=%v", entries[2].ContextMap()["path"])
	}
}

func TestMetricsFoldsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin/2", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`certsig_http_requests_total{method="GET",route="/healthcheck",status="200"} 1`,
		`certsig_http_requests_total{method="GET",route="unmatched",status="404"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
	if strings.Contains(body, "wp-admin") {
		t.Fatalf("raw unmatched paths leaked into labels")
	}
}
