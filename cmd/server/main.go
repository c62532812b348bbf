package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fund-burying-backend/internal/cache"
	"fund-burying-backend/internal/client"
	"fund-burying-backend/internal/config"
	"fund-burying-backend/internal/handler"
	"fund-burying-backend/internal/holiday"
	"fund-burying-backend/internal/mail"
	"fund-burying-backend/internal/scheduler"
	"fund-burying-backend/internal/service"
	"fund-burying-backend/internal/stockdata"
	"fund-burying-backend/internal/store"
	"fund-burying-backend/internal/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ERROR][Main] 加载配置失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCacheProvider(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			log.Printf("[WARN][Main] 连接Redis失败，使用内存缓存: %v", err)
		} else {
			stockdata.SetCacheProvider(rc)
			defer rc.Close()
			log.Printf("[INFO][Main] 使用Redis缓存 %s", cfg.Redis.Addr)
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("[ERROR][Main] 打开数据库失败: %v", err)
	}
	defer st.Close()

	if err := holiday.LoadCustomHolidays(cfg.HolidayFile); err != nil {
		log.Printf("[WARN][Holiday] %v", err)
	}

	settings, err := cfg.AnalyzerSettings()
	if err != nil {
		log.Fatalf("[ERROR][Main] 加载模块配置失败: %v", err)
	}
	svc, err := service.New(service.Options{
		Settings: settings,
		Disabled: cfg.Analyzer.Disabled,
		Store:    st,
		Sidecar:  client.NewSidecar(cfg.PythonServiceURL),
	})
	if err != nil {
		log.Fatalf("[ERROR][Main] 初始化分析服务失败: %v", err)
	}

	if cfg.Scheduler.Enabled {
		var notifier scheduler.Notifier
		if cfg.SMTP.Configured() {
			notifier = mail.Sender{Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, User: cfg.SMTP.User, Pass: cfg.SMTP.Pass}
		}
		scheduler.New(cfg, svc, notifier).Start(ctx)
	} else {
		log.Println("[INFO][Scheduler] 收盘后扫描已禁用")
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", trace.Header, "X-Request-Id"},
		ExposeHeaders:    []string{trace.Header},
		AllowCredentials: true,
	}))
	r.Use(handler.TraceMiddleware())

	api := r.Group("/api")
	{
		api.GET("/stocks", handler.GetStocks)
		handler.NewAmbush(svc).Register(api)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("[INFO][Main] 服务启动在端口 %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR][Main] 启动服务失败: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[INFO][Main] 收到退出信号，正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN][Main] 关闭服务失败: %v", err)
	}
}
