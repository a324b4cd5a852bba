// internal/app/app.go
// Package app 负责服务的装配与生命周期管理
package app

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corvane/StoryWeaver/internal/config"
	"github.com/Corvane/StoryWeaver/internal/di"
	"github.com/Corvane/StoryWeaver/internal/services"
	"github.com/Corvane/StoryWeaver/internal/storage"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// App 应用实例，持有需要显式关闭的资源
type App struct {
	store    *storage.Store
	cache    *storage.SnapshotCache
	playback *services.PlaybackService
	stopChan chan struct{}
}

var (
	instance *App
	appMutex sync.Mutex
)

// GetApp 获取应用单例
func GetApp() *App {
	appMutex.Lock()
	defer appMutex.Unlock()
	if instance == nil {
		instance = &App{stopChan: make(chan struct{})}
	}
	return instance
}

// InitServices 按依赖顺序初始化所有服务并注册到容器
//
// 顺序：日志 -> 存储 -> 缓存 -> 故事图服务 -> 规范化 -> 保存服务 -> 播放服务。
// 任何一步失败都会中止启动，已打开的资源由 Cleanup 统一关闭。
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置尚未加载")
	}

	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "storyweaver.log")); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	logger := utils.GetLogger()
	if cfg.DebugMode {
		logger.SetLogLevel(utils.DEBUG)
	}

	app := GetApp()
	container := di.GetContainer()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	app.store = store
	container.Register("store", store)
	logger.Info("存储已打开", map[string]interface{}{"path": cfg.DBPath})

	cache := storage.NewSnapshotCache(5*time.Minute, 100)
	app.cache = cache
	container.Register("cache", cache)

	idGen := utils.NewIDGenerator()
	container.Register("idgen", idGen)

	graphService := services.NewGraphService(idGen)
	container.Register("graph", graphService)

	normalizer := services.NewNormalizer(idGen, graphService)
	container.Register("normalizer", normalizer)

	verify := services.RetryPolicy{
		MaxAttempts: cfg.SaveVerifyAttempts,
		Backoff:     time.Duration(cfg.SaveVerifyBackoffMs) * time.Millisecond,
	}
	saveService := services.NewSaveService(store, normalizer, idGen, cache, verify)
	container.Register("save", saveService)

	playbackService := services.NewPlaybackService(store, cache, idGen)
	app.playback = playbackService
	container.Register("playback", playbackService)

	logger.Info("服务初始化完成", map[string]interface{}{
		"services": len(container.GetNames()),
	})
	return nil
}

// Cleanup 关闭所有持有的资源（与初始化相反的顺序）
func (a *App) Cleanup() {
	logger := utils.GetLogger()

	if a.playback != nil {
		a.playback.Close()
		a.playback = nil
	}
	if a.cache != nil {
		a.cache.Close()
		a.cache = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("关闭存储失败", map[string]interface{}{"error": err.Error()})
		}
		a.store = nil
	}

	di.GetContainer().Clear()
	logger.Info("应用资源已清理", nil)
	utils.CloseLogger()
}

// Store 返回存储实例
func (a *App) Store() *storage.Store {
	return a.store
}
