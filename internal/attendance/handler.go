package attendance

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

// RegisterRoutes は勤怠台帳の照会・管理系ルートを登録する。
// 取り込み系（打刻イベント）は device パッケージ側のルートから入る。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	r.GET("/attendances", func(c *gin.Context) { listAttendances(c, svc) })
	r.GET("/attendances/summary", func(c *gin.Context) { monthlySummary(c, svc) })
	r.DELETE("/attendances/:record_id", func(c *gin.Context) { deleteAttendance(c, svc) })
}

func listAttendances(c *gin.Context, svc *Service) {
	var q ListQuery
	if v := c.Query("person_id"); v != "" {
		q.PersonID = &v
	}
	if v := c.Query("person_role"); v != "" {
		q.PersonRole = &v
	}
	if v := c.Query("status"); v != "" {
		q.Status = &v
	}
	for _, f := range []struct {
		name string
		dst  **int
	}{
		{"cal_year", &q.CalYear},
		{"cal_month", &q.CalMonth},
		{"cal_day", &q.CalDay},
	} {
		if v := c.Query(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("invalid "+f.name)))
				return
			}
			*f.dst = &n
		}
	}
	q.Sort = c.DefaultQuery("sort", DefaultSort)
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := svc.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func monthlySummary(c *gin.Context, svc *Service) {
	year, err := strconv.Atoi(c.Query("cal_year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("cal_year is required")))
		return
	}
	month, err := strconv.Atoi(c.Query("cal_month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("cal_month is required")))
		return
	}
	sum, err := svc.MonthlySummary(c.Request.Context(), c.Query("person_id"), c.Query("person_role"), year, month)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}

func deleteAttendance(c *gin.Context, svc *Service) {
	id, err := strconv.ParseUint(c.Param("record_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorFromErr(ErrInvalid("invalid record_id")))
		return
	}
	if err := svc.DeleteRecord(c.Request.Context(), id, actor(c)); err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
