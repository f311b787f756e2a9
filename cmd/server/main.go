package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/Ape-Alive/StoryX-sub001/internal/config"
	"github.com/Ape-Alive/StoryX-sub001/internal/handler"
	"github.com/Ape-Alive/StoryX-sub001/internal/middleware"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
	"github.com/Ape-Alive/StoryX-sub001/internal/repository"
	"github.com/Ape-Alive/StoryX-sub001/internal/router"
	"github.com/Ape-Alive/StoryX-sub001/internal/service"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	// 加载配置
	cfg := config.Load()

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := repository.Migrate(db); err != nil {
		log.Fatalf("表结构同步失败: %v", err)
	}

	// 初始化仓库
	repos := repository.NewRepositories(db)

	// 组装服务，依赖全部显式注入
	adapter := provider.NewRESTAdapter()
	dispatcher := service.NewDispatcher(cfg.ProviderRateInterval)
	defaults := service.DefaultsFromConfig(cfg)

	uploader := service.NewLocalUploader(cfg.MediaDir)
	storage := service.NewStorageService(uploader, os.TempDir())

	characterSvc := service.NewCharacterService(repos.Character)
	scriptSvc := service.NewScriptService(
		repos.Novel, repos.Script, characterSvc, repos.Project,
		adapter, dispatcher, defaults)
	mediaSvc := service.NewMediaService(
		repos.Script, repos.Character, repos.Task, repos.Prompt, repos.Project,
		adapter, storage, dispatcher, defaults)

	// 启动僵死任务回收
	recoverySvc := service.NewRecoveryService(repos.Task, repos.Script, cfg.TaskLease, cfg.VideoTaskLease)
	recoverySvc.Start()

	// 初始化 Gin
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 初始化 Handler 并注册路由
	h := handler.NewHandler(repos, cfg, scriptSvc, mediaSvc, characterSvc)
	router.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		log.Printf("服务器启动于 http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	// kill (no parameter) 默认发送 syscall.SIGTERM
	// kill -2 是 syscall.SIGINT
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务器...")

	// 先停止接受新请求
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务器强制关闭: %v", err)
	}

	recoverySvc.Stop()

	// 给后台生成单元一个排空窗口，超时后放弃，僵死任务交给下次启动的回收
	if !dispatcher.Drain(cfg.DrainTimeout) {
		log.Printf("排空超时（%s），仍有后台任务未完成", cfg.DrainTimeout)
	}

	log.Println("服务器已退出")
}
