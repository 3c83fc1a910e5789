package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"

	"SAMS-backend/internal/attendance"
	"SAMS-backend/internal/audit"
	"SAMS-backend/internal/conflict"
	"SAMS-backend/internal/device"
	"SAMS-backend/internal/directory"
	"SAMS-backend/internal/identity"
	"SAMS-backend/internal/platform/auth"
	"SAMS-backend/internal/platform/db"
	"SAMS-backend/internal/reconcile"
	"SAMS-backend/internal/scheduler"
	"SAMS-backend/internal/synclock"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	if n, err := directory.NewStore(conn).CountActive(context.Background()); err == nil {
		log.Printf("[INFO] directory: %d active person(s)", n)
	}

	settings, err := attendance.SettingsFromConfig(cfg.Attendance)
	if err != nil {
		panic(err)
	}

	// サービス配線。監査は全サービス共通の窓口
	auditSvc := audit.NewService(conn)
	identitySvc := identity.NewService(conn, auditSvc)
	attendanceSvc := attendance.NewService(conn, auditSvc, settings)
	lockSvc := synclock.NewService(synclock.NewStore(conn), auditSvc, cfg.Sync.LockTTLSeconds)
	conflictSvc := conflict.NewService(conn, auditSvc)
	reconcileSvc := reconcile.NewService(
		attendanceSvc, directory.NewStore(conn), lockSvc, auditSvc, settings)
	deviceSvc := device.NewService(identitySvc, attendanceSvc)
	authSvc := auth.NewService(conn, cfg.Auth)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1
	api := r.Group("/api/v1")

	// 認証なし: ログインと端末チャネル（端末はJWTを持てない）
	auth.RegisterRoutes(api, authSvc)
	device.RegisterRoutes(api, deviceSvc)

	// 管理系は admin ロール必須
	admin := api.Group("", auth.RequireAuth(authSvc.JWTSecret()), auth.RequireRole("admin"))
	identity.RegisterRoutes(admin, identitySvc)
	attendance.RegisterRoutes(admin, attendanceSvc)
	conflict.RegisterRoutes(admin, conflictSvc)
	reconcile.RegisterRoutes(admin, reconcileSvc)
	synclock.RegisterRoutes(admin, lockSvc)
	audit.RegisterRoutes(admin, auditSvc)

	// バックグラウンド: 端末TCPリスナとスケジューラ
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if cfg.Device.ListenAddr != "" {
		listener := device.NewListener(deviceSvc, cfg.Device)
		go func() {
			if err := listener.Run(bgCtx); err != nil {
				log.Printf("[ERROR] %v", err)
			}
		}()
	}

	sched := scheduler.New(reconcileSvc, conflictSvc, identitySvc, auditSvc, lockSvc, cfg.Sync)
	go sched.Run(bgCtx)

	// TLS起動（:8443 例）
	srv := &http.Server{
		Addr:    ":8443",
		Handler: r,
	}

	var certFile, keyFile string

	// TLS設定
	if mode == "dev" {
		//開発用
		certFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/dev/%s", cfg.Certificate.Key)
	} else {
		//本番用
		certFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/release/%s", cfg.Certificate.Key)
	}

	go func() {
		log.Println("[INFO] listening on https://0.0.0.0:8443")
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
