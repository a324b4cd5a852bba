// internal/storage/cache_test.go
package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/Corvane/StoryWeaver/internal/models"
)

func cachedGraph(novelID, episodeID string, version int64) *models.StoryGraph {
	return &models.StoryGraph{
		ID:        "g_" + novelID + "_" + episodeID,
		NovelID:   novelID,
		EpisodeID: episodeID,
		Version:   version,
		IsActive:  true,
	}
}

func TestSnapshotCachePutGet(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache(time.Minute, 10)
	t.Cleanup(cache.Close)

	if got := cache.Get("novel1", "ep1"); got != nil {
		t.Fatalf("空缓存应返回 nil: %+v", got)
	}

	cache.Put(cachedGraph("novel1", "ep1", 3))
	got := cache.Get("novel1", "ep1")
	if got == nil || got.Version != 3 {
		t.Fatalf("缓存读取错误: %+v", got)
	}

	// 覆盖写入以最新为准
	cache.Put(cachedGraph("novel1", "ep1", 4))
	if got := cache.Get("novel1", "ep1"); got.Version != 4 {
		t.Fatalf("覆盖后版本 = %d, 期望 4", got.Version)
	}
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache(time.Minute, 10)
	t.Cleanup(cache.Close)

	cache.Put(cachedGraph("novel1", "ep1", 1))
	cache.Put(cachedGraph("novel1", "ep2", 1))
	cache.Invalidate("novel1", "ep1")

	if cache.Get("novel1", "ep1") != nil {
		t.Fatal("失效的条目仍可读取")
	}
	if cache.Get("novel1", "ep2") == nil {
		t.Fatal("失效不应波及其他章节")
	}
}

func TestSnapshotCacheExpiry(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache(20*time.Millisecond, 10)
	t.Cleanup(cache.Close)

	cache.Put(cachedGraph("novel1", "ep1", 1))
	if cache.Get("novel1", "ep1") == nil {
		t.Fatal("未过期的条目应可读取")
	}

	time.Sleep(40 * time.Millisecond)
	if cache.Get("novel1", "ep1") != nil {
		t.Fatal("过期的条目仍可读取")
	}
}

func TestSnapshotCacheEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache(time.Minute, 3)
	t.Cleanup(cache.Close)

	for i := 0; i < 4; i++ {
		cache.Put(cachedGraph("novel1", fmt.Sprintf("ep%d", i), 1))
		time.Sleep(time.Millisecond)
	}

	if cache.Get("novel1", "ep0") != nil {
		t.Fatal("超限时应淘汰最老的条目")
	}
	if cache.Get("novel1", "ep3") == nil {
		t.Fatal("最新条目不应被淘汰")
	}
}

func TestSnapshotCacheIgnoresNil(t *testing.T) {
	t.Parallel()

	cache := NewSnapshotCache(time.Minute, 10)
	t.Cleanup(cache.Close)

	cache.Put(nil)
	if cache.Get("", "") != nil {
		t.Fatal("nil 写入不应产生条目")
	}
}
