package conflict

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"SAMS-backend/internal/platform/auth"
)

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDTO `json:"error"`
}

func errorFromErr(err error) errorBody {
	if api, ok := err.(*APIError); ok {
		return errorBody{Error: errorDTO{Code: string(api.Code), Message: api.Message}}
	}
	return errorBody{Error: errorDTO{Code: string(CodeInternal), Message: "internal error"}}
}

func actor(c *gin.Context) string {
	if v, ok := c.Get(auth.CtxUserIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "system"
}

type resolveRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.GET("/conflicts", func(c *gin.Context) { listConflicts(c, svc) })
	r.POST("/conflicts/detect", func(c *gin.Context) { detectConflicts(c, svc) })
	r.POST("/conflicts/:conflict_id/resolve", func(c *gin.Context) { resolveConflict(c, svc) })
}

func listConflicts(c *gin.Context, svc *Service) {
	onlyOpen := c.DefaultQuery("open", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	recs, err := svc.List(c.Request.Context(), onlyOpen, limit, offset)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs})
}

func detectConflicts(c *gin.Context, svc *Service) {
	sum, err := svc.DetectAll(c.Request.Context())
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func resolveConflict(c *gin.Context, svc *Service) {
	id, err := strconv.ParseUint(c.Param("conflict_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("invalid conflict_id")))
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("strategy is required")))
		return
	}
	rec, err := svc.Resolve(c.Request.Context(), id, req.Strategy, actor(c))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, rec)
}
