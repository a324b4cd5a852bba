// internal/storage/cache.go
package storage

import (
	"sync"
	"time"

	"github.com/Corvane/StoryWeaver/internal/models"
)

// snapshotEntry 缓存条目
type snapshotEntry struct {
	graph     *models.StoryGraph
	timestamp time.Time
}

// SnapshotCache 是读路径上的故事图快照缓存
// 播放会话创建时读取活跃故事图，缓存避免每个会话都打到数据库；
// 任何写入都会使对应章节的缓存失效
type SnapshotCache struct {
	mu          sync.RWMutex
	entries     map[string]*snapshotEntry
	expiry      time.Duration
	maxEntries  int
	stopCleanup chan struct{}
}

// NewSnapshotCache 创建快照缓存并启动后台清理
func NewSnapshotCache(expiry time.Duration, maxEntries int) *SnapshotCache {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	c := &SnapshotCache{
		entries:     make(map[string]*snapshotEntry),
		expiry:      expiry,
		maxEntries:  maxEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func cacheKey(novelID, episodeID string) string {
	return novelID + "/" + episodeID
}

// Get 读取缓存的故事图快照，过期或不存在返回 nil
func (c *SnapshotCache) Get(novelID, episodeID string) *models.StoryGraph {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cacheKey(novelID, episodeID)]
	if !exists {
		return nil
	}
	if time.Since(entry.timestamp) > c.expiry {
		return nil
	}
	return entry.graph
}

// Put 写入故事图快照
func (c *SnapshotCache) Put(graph *models.StoryGraph) {
	if graph == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(graph.NovelID, graph.EpisodeID)] = &snapshotEntry{
		graph:     graph,
		timestamp: time.Now(),
	}

	// 简单的缓存大小控制：超限时删除最老的条目
	if len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldestTime time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.timestamp.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.timestamp
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}
}

// Invalidate 使章节的缓存失效（保存成功后调用）
func (c *SnapshotCache) Invalidate(novelID, episodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(novelID, episodeID))
}

// Close 停止后台清理
func (c *SnapshotCache) Close() {
	close(c.stopCleanup)
}

func (c *SnapshotCache) cleanupLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *SnapshotCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.expiry {
			delete(c.entries, key)
		}
	}
}
