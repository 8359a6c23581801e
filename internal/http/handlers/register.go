package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/http/response"
	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

type RegisterHandler struct {
	log   *logger.Logger
	table register.Table
}

func NewRegisterHandler(log *logger.Logger, table register.Table) *RegisterHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterHandler{log: log.With("handler", "RegisterHandler"), table: table}
}

// GET /api/register/status
func (h *RegisterHandler) Status(c *gin.Context) {
	st, err := h.table.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("register stats failed", "backend", h.table.Backend(), "error", err)
		response.RespondError(c, http.StatusInternalServerError, "register_io_error", err)
		return
	}
	response.RespondOK(c, gin.H{
		"backend":   h.table.Backend(),
		"total":     st.Total,
		"used":      st.Used,
		"available": st.Available,
	})
}
