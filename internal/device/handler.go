package device

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDTO `json:"error"`
}

func invalid(msg string) errorBody {
	return errorBody{Error: errorDTO{Code: "INVALID_ARGUMENT", Message: msg}}
}

// pushRequest: Webhook経由の1打刻。TCPプッシュと同じ論理フィールド。
type pushRequest struct {
	DeviceID      string `json:"device_id" form:"device_id"`
	Timestamp     string `json:"timestamp" form:"timestamp"`
	RawName       string `json:"raw_name" form:"raw_name"`
	VerifyMode    string `json:"verify_mode" form:"verify_mode"`
	DirectionHint string `json:"direction_hint" form:"direction_hint"`
}

// RegisterRoutes: 取り込み系のHTTP面。古い端末ゲートウェイがGETで
// 送ってくるため、/device/push はGETとPOSTの両方を受ける。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	push := func(c *gin.Context) { handlePush(c, svc) }
	r.GET("/device/push", push)
	r.POST("/device/push", push)
	r.POST("/device/import", func(c *gin.Context) { handleImport(c, svc) })
}

func handlePush(c *gin.Context, svc *Service) {
	var req pushRequest
	if c.Request.Method == http.MethodGet {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, invalid("invalid query parameters"))
			return
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, invalid("invalid JSON body"))
			return
		}
	}
	if req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, invalid("device_id is required"))
		return
	}

	at, ok := parseTimestamp(req.Timestamp)
	if !ok {
		// 時刻を省略するゲートウェイがあるため受信時刻で補完する
		if req.Timestamp != "" {
			c.JSON(http.StatusBadRequest, invalid("unparsable timestamp"))
			return
		}
		at = time.Now()
	}

	ev := ParsedEvent{
		DeviceID:      req.DeviceID,
		At:            at,
		VerifyMode:    req.VerifyMode,
		DirectionHint: req.DirectionHint,
	}
	if req.RawName != "" {
		ev.RawName = &req.RawName
	}

	sum := svc.IngestBatch(c.Request.Context(), []ParsedEvent{ev}, SourceWebhook)
	c.JSON(http.StatusOK, sum)
}

func handleImport(c *gin.Context, svc *Service) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		// multipartでなければ生ボディをそのまま読む
		events, parseFailures, err := ParseImport(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, invalid("unreadable import payload"))
			return
		}
		respondImport(c, svc, events, parseFailures)
		return
	}
	defer file.Close()

	events, parseFailures, err := ParseImport(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, invalid("unreadable import file"))
		return
	}
	respondImport(c, svc, events, parseFailures)
}

func respondImport(c *gin.Context, svc *Service, events []ParsedEvent, parseFailures int) {
	sum := svc.IngestBatch(c.Request.Context(), events, SourceImport)
	sum.ParseFailures = parseFailures
	c.JSON(http.StatusOK, sum)
}
