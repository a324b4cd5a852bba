// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Corvane/StoryWeaver/internal/api"
	"github.com/Corvane/StoryWeaver/internal/app"
	"github.com/Corvane/StoryWeaver/internal/config"
	"github.com/Corvane/StoryWeaver/internal/di"
	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("🚀 启动 StoryWeaver 服务器...")

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s", baseConfig.Port)

	// 2. 初始化依赖注入容器
	container := di.GetContainer()
	log.Printf("✅ 依赖注入容器初始化完成，服务数量: %d", len(container.GetNames()))

	// 3. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	// 4. 初始化认证系统
	if err := api.InitializeAuth(); err != nil {
		log.Fatalf("初始化认证失败: %v", err)
	}
	log.Println("✅ 认证系统初始化完成")

	// 5. 设置路由（只获取服务，不创建）
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	// 6. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 保存端点: http://localhost:%s/api/novels/{novel}/episodes/{episode}/story-map", baseConfig.Port)
	log.Printf("🔗 播放端点: http://localhost:%s/api/playback/sessions", baseConfig.Port)

	setupGracefulShutdown(router, baseConfig.Port)
}

// setupGracefulShutdown 启动HTTP服务器并在收到信号时优雅关闭
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器运行失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 收到关闭信号，正在优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭出错: %v", err)
	}

	app.GetApp().Cleanup()
	log.Println("👋 服务器已退出")
}
