// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config 存储应用配置
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	DataDir        string `env:"DATA_DIR" envDefault:"data"`
	DBPath         string `env:"DB_PATH"`
	LogDir         string `env:"LOG_DIR" envDefault:"logs"`
	DebugMode      bool   `env:"DEBUG_MODE" envDefault:"true"`
	AuthSecretKey  string `env:"AUTH_SECRET_KEY"`
	TickIntervalMs int    `env:"TICK_INTERVAL_MS" envDefault:"50"`
	// 规范化后写入校验的重试次数与基础退避
	SaveVerifyAttempts  int `env:"SAVE_VERIFY_ATTEMPTS" envDefault:"3"`
	SaveVerifyBackoffMs int `env:"SAVE_VERIFY_BACKOFF_MS" envDefault:"50"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量配置失败: %w", err)
	}

	// 确保目录存在
	ensureDir(cfg.DataDir)
	ensureDir(cfg.LogDir)

	// 数据库默认放在数据目录下
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "storyweaver.db")
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	return cfg, nil
}

// GetCurrentConfig 获取当前配置（Load 之前返回 nil）
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}

// ensureDir 确保目录存在
func ensureDir(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
}
