package reconcile

import (
	"net/http"

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

// 手動トリガ。スケジューラと同じリースを奪り合うので二重実行は LOCK_HELD になる。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.POST("/reconcile/run", func(c *gin.Context) {
		sum, err := svc.RunSweep(c.Request.Context(), actor(c))
		if err != nil {
			status := http.StatusInternalServerError
			if api, ok := err.(*APIError); ok && api.Code == CodeLockHeld {
				status = http.StatusConflict
			}
			c.JSON(status, errorFromErr(err))
			return
		}
		c.JSON(http.StatusOK, sum)
	})
}
