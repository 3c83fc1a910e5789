package synclock

import (
	"net/http"

	"github.com/gin-gonic/gin"
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

// RegisterRoutes: ロック状態の観測のみ。獲得・解放はバッチ側だけが行う。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.GET("/sync/locks/:lock_key", func(c *gin.Context) {
		st, err := svc.Status(c.Request.Context(), c.Param("lock_key"))
		if err != nil {
			status := http.StatusInternalServerError
			if api, ok := err.(*APIError); ok && api.Code == CodeInvalidArgument {
				status = http.StatusBadRequest
			}
			c.JSON(status, errorFromErr(err))
			return
		}
		c.JSON(http.StatusOK, st)
	})
}
