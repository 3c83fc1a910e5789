package identity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"SAMS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 未マッピング端末IDの滞留一覧
	r.GET("/identity/unmapped", h.ListUnmapped)

	// マッピング管理
	r.GET("/identity/mappings", h.ListMappings)
	r.POST("/identity/mappings", h.CreateMapping)
	r.DELETE("/identity/mappings/:device_id", h.DeleteMapping)

	// 保持期間超過バッファの掃除（明示操作）
	r.POST("/identity/buffer/cleanup", h.CleanupBuffer)
}

func (h *Handler) ListUnmapped(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 100)
	offset := parseIntDefault(c.Query("offset"), 0)
	out, err := h.svc.ListUnmapped(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"buffered": out, "count": len(out)})
}

func (h *Handler) ListMappings(c *gin.Context) {
	out, err := h.svc.ListMappings(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": out, "count": len(out)})
}

type createMappingRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	PersonID   string `json:"person_id" binding:"required"`
	PersonRole string `json:"person_role" binding:"required"`
}

func (h *Handler) CreateMapping(c *gin.Context) {
	var req createMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(ErrCodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	m, err := h.svc.CreateMapping(c.Request.Context(), req.DeviceID, req.PersonID, req.PersonRole, actor(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) DeleteMapping(c *gin.Context) {
	n, err := h.svc.DeleteMapping(c.Request.Context(), c.Param("device_id"), actor(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days" binding:"required"`
}

func (h *Handler) CleanupBuffer(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(ErrCodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	n, err := h.svc.CleanupBuffer(c.Request.Context(), req.RetentionDays, actor(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// ---------- helpers ----------

func actor(c *gin.Context) string {
	if v, ok := c.Get(auth.CtxUserIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "system"
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	code := ErrCodeInternal
	if de, ok := err.(*DomainError); ok {
		code, msg = de.Code, de.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
