package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
	"github.com/yungbote/certsig-backend/internal/http/middleware"
	"github.com/yungbote/certsig-backend/internal/http/response"
	"github.com/yungbote/certsig-backend/internal/platform/apierr"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
	"github.com/yungbote/certsig-backend/internal/services"
)

const (
	formOwnerName  = "ownerName"
	formPromName   = "promName"
	formEdition    = "edition"
	formNFTID      = "nftId"
	formUserID     = "userId"
	formQRLink     = "qrLink"
	formBlockchain = "blockchain"

	maxFormBytes = 64 << 10
)

var knownFormFields = map[string]struct{}{
	formOwnerName:  {},
	formPromName:   {},
	formEdition:    {},
	formNFTID:      {},
	formUserID:     {},
	formQRLink:     {},
	formBlockchain: {},
}

type CertificateHandlerDeps struct {
	Log    *logger.Logger
	Issuer services.CertificateIssuer
	Store  *services.ArtifactStore
}

type CertificateHandler struct {
	log    *logger.Logger
	issuer services.CertificateIssuer
	store  *services.ArtifactStore
}

func NewCertificateHandler(deps CertificateHandlerDeps) *CertificateHandler {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &CertificateHandler{
		log:    log.With("handler", "CertificateHandler"),
		issuer: deps.Issuer,
		store:  deps.Store,
	}
}

// POST /generate
// body (form): ownerName, promName, edition, nftId, userId, qrLink, extras...
func (h *CertificateHandler) Generate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFormBytes)
	if err := c.Request.ParseForm(); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	issued, err := h.issuer.Issue(c.Request.Context(), requestFromForm(c))
	if err != nil {
		if serial := certificate.OrphanedSerial(err); serial != "" {
			c.Set(middleware.ContextKeySerial, serial)
		}
		_ = c.Error(err)
		response.RespondAPIError(c, apierr.FromIssuance(err))
		return
	}

	c.Set(middleware.ContextKeySerial, issued.Serial)
	c.Header("X-Certificate-Serial", issued.Serial)
	c.FileAttachment(issued.Path, issued.FileName)

	// The copy on disk only exists to be downloaded once.
	if h.store != nil {
		if err := h.store.Remove(issued.Path); err != nil {
			h.log.Warn("failed to remove delivered certificate", "serial", issued.Serial, "path", issued.Path, "error", err)
		}
	}
}

// requestFromForm maps the posted form onto a request. Fields outside the
// known set are carried as extras; blockchain is ignored because it is fixed
// by configuration.
func requestFromForm(c *gin.Context) certificate.Request {
	form := c.Request.PostForm
	req := certificate.Request{
		OwnerName:      form.Get(formOwnerName),
		PrometheanName: form.Get(formPromName),
		Edition:        form.Get(formEdition),
		NFTID:          form.Get(formNFTID),
		UserID:         form.Get(formUserID),
		QRLink:         form.Get(formQRLink),
	}
	for key, vals := range form {
		if _, ok := knownFormFields[key]; ok || len(vals) == 0 {
			continue
		}
		if v := strings.TrimSpace(vals[0]); v != "" {
			if req.Extras == nil {
				req.Extras = map[string]string{}
			}
			req.Extras[key] = v
		}
	}
	return req
}
