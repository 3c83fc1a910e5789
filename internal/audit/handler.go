package audit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"SAMS-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// GET /audit (監査ログ閲覧)
	r.GET("/audit", h.ListLog)

	// バックアップ操作（削除・リストアは明示操作のみ）
	r.GET("/backups", h.ListBackups)
	r.POST("/backups", h.CreateBackup)
	r.GET("/backups/:snapshot_id/export", h.ExportBackup)
	r.POST("/backups/:snapshot_id/restore", h.RestoreBackup)
	r.DELETE("/backups/:snapshot_id", h.DeleteBackup)
}

func (h *Handler) ListLog(c *gin.Context) {
	f := LogFilter{
		OperationType: c.Query("operation_type"),
		SubjectID:     c.Query("subject_id"),
		ServiceName:   c.Query("service_name"),
		Limit:         parseIntDefault(c.Query("limit"), 100),
		Offset:        parseIntDefault(c.Query("offset"), 0),
	}
	rows, err := h.svc.ListLog(c.Request.Context(), f)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "count": len(rows)})
}

type createBackupRequest struct {
	Name          string `json:"name"`
	IncludeLedger bool   `json:"include_ledger"`
}

func (h *Handler) CreateBackup(c *gin.Context) {
	var req createBackupRequest
	// ボディ無しも許容（全て既定値）
	_ = c.ShouldBindJSON(&req)

	snap, err := h.svc.CreateBackup(c.Request.Context(), req.Name, req.IncludeLedger, actor(c))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *Handler) ListBackups(c *gin.Context) {
	snaps, err := h.svc.ListBackups(c.Request.Context())
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

func (h *Handler) ExportBackup(c *gin.Context) {
	id, err := parseSnapshotID(c.Param("snapshot_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid snapshot_id"))
		return
	}
	snap, items, err := h.svc.Export(c.Request.Context(), id)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+snap.Name+".json\"")
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "items": items})
}

type restoreRequest struct {
	Overwrite bool `json:"overwrite"` // 既定は上書きしない
}

func (h *Handler) RestoreBackup(c *gin.Context) {
	id, err := parseSnapshotID(c.Param("snapshot_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid snapshot_id"))
		return
	}
	var req restoreRequest
	_ = c.ShouldBindJSON(&req)

	sum, err := h.svc.Restore(c.Request.Context(), id, req.Overwrite, actor(c))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) DeleteBackup(c *gin.Context) {
	id, err := parseSnapshotID(c.Param("snapshot_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid snapshot_id"))
		return
	}
	if err := h.svc.DeleteBackup(c.Request.Context(), id, actor(c)); err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
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

func parseSnapshotID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
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
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var msg string
	var code Code = CodeInternal
	if api, ok := err.(*APIError); ok {
		code, msg = api.Code, api.Message
	} else {
		msg = err.Error()
	}
	return errorBody(code, msg)
}
