package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vatledger/engine/internal/service"
	"github.com/vatledger/engine/pkg/pagination"
	"github.com/vatledger/engine/pkg/response"
)

// AuditHandler exposes the audit trail read-only.
type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs")
	{
		group.GET("", h.GetAuditLogs)
		group.GET("/:entity_id", h.GetEntityHistory)
	}
}

// GetAuditLogs returns one page of audit entries, newest first
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		resp := response.FromError(err)
		c.JSON(resp.StatusCode, resp)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
		"page":  p.Page,
		"limit": p.Limit,
	}))
}

// GetEntityHistory returns every audit entry for one tax record, return or rate
func (h *AuditHandler) GetEntityHistory(c *gin.Context) {
	logs, err := h.auditService.GetEntityHistory(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		resp := response.FromError(err)
		c.JSON(resp.StatusCode, resp)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, logs))
}
