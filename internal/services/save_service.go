// internal/services/save_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corvane/StoryWeaver/internal/errors"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/storage"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// GraphStore 是保存服务依赖的存储操作集合
// 以接口声明以便测试注入故障（唯一约束冲突、并发删除）
type GraphStore interface {
	GetEpisode(ctx context.Context, novelID, episodeID string) (*models.Episode, error)
	GetActiveGraph(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error)
	GetGraphByID(ctx context.Context, graphID string) (*models.StoryGraph, error)
	CreateGraph(ctx context.Context, novelID, episodeID, graphID string, content storage.GraphContent) (*models.StoryGraph, error)
	ReplaceGraph(ctx context.Context, novelID, episodeID string, content storage.GraphContent) (*models.StoryGraph, error)
	ForceReplaceVariables(ctx context.Context, graphID string, content storage.GraphContent) (int64, error)
	UnsetThenSetVariables(ctx context.Context, graphID string, variables []models.Variable) error
	DeactivateGraph(ctx context.Context, novelID, episodeID string) error
	UpsertEpisode(ctx context.Context, episode models.Episode) error
	PutScene(ctx context.Context, scene models.Scene) error
}

// SaveService 实现作者保存协议：
// 规范化 -> 持久化 -> 冲突恢复 -> 写后读校验
//
// 协议的目标是让作者的保存几乎永远成功：能修复的输入修复后落库，
// 存储层的唯一约束冲突按梯度逐级恢复，只有确实无法恢复的情况
// （章节被并发删除、恢复路径全部失败）才把错误交还给作者。
type SaveService struct {
	store      GraphStore
	normalizer *Normalizer
	idGen      *utils.IDGenerator
	cache      *storage.SnapshotCache
	verify     RetryPolicy
	logger     *utils.Logger
	sleep      func(time.Duration)
}

// NewSaveService 创建保存服务
func NewSaveService(store GraphStore, normalizer *Normalizer, idGen *utils.IDGenerator, cache *storage.SnapshotCache, verify RetryPolicy) *SaveService {
	if verify.MaxAttempts <= 0 {
		verify = DefaultRetryPolicy()
	}
	return &SaveService{
		store:      store,
		normalizer: normalizer,
		idGen:      idGen,
		cache:      cache,
		verify:     verify,
		logger:     utils.GetLogger(),
		sleep:      time.Sleep,
	}
}

// SaveStoryMap 保存章节的故事图
//
// 版本号是提示性的：提交的版本落后于当前活跃版本时记录告警但不拒绝，
// 保存永远以提交内容整体替换当前内容。每次成功的保存版本号恰好+1。
func (s *SaveService) SaveStoryMap(ctx context.Context, novelID, episodeID, userID string, req *models.SaveStoryMapRequest) (*models.SaveStoryMapResult, error) {
	episode, err := s.store.GetEpisode(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 不存在", novelID, episodeID), err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取章节失败", err)
	}
	if !episode.IsAuthoredBy(userID) {
		return nil, apperrors.NewForbiddenError("只有作者或协作者可以保存故事图", nil)
	}

	normalized := s.normalizer.Normalize(req)
	if normalized.Healed > 0 {
		s.logger.Info("保存输入已修复", map[string]interface{}{
			"novel_id":   novelID,
			"episode_id": episodeID,
			"healed":     normalized.Healed,
		})
	}

	content := storage.GraphContent{
		StartNodeID: normalized.StartNodeID,
		Nodes:       normalized.Nodes,
		Edges:       normalized.Edges,
		Variables:   normalized.Variables,
		ModifiedBy:  userID,
	}

	graph, err := s.persist(ctx, novelID, episodeID, req.Version, content)
	if err != nil {
		return nil, err
	}

	graph, err = s.verifySaved(ctx, novelID, episodeID, graph)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(novelID, episodeID)
	}

	return &models.SaveStoryMapResult{
		StoryMap: models.StoryMapSnapshot{
			ID:             graph.ID,
			Version:        graph.Version,
			StartNodeID:    graph.StartNodeID,
			Nodes:          graph.Nodes,
			Edges:          graph.Edges,
			StoryVariables: graph.Variables,
			UpdatedAt:      graph.UpdatedAt.Format(time.RFC3339),
		},
		Episode: *episode,
		Healed:  normalized.Healed,
	}, nil
}

// GetStoryMap 读取章节当前活跃的故事图（读路径走快照缓存）
func (s *SaveService) GetStoryMap(ctx context.Context, novelID, episodeID string) (*models.StoryGraph, error) {
	if s.cache != nil {
		if cached := s.cache.Get(novelID, episodeID); cached != nil {
			return cached, nil
		}
	}
	graph, err := s.store.GetActiveGraph(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 没有故事图", novelID, episodeID), err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取故事图失败", err)
	}
	if s.cache != nil {
		s.cache.Put(graph)
	}
	return graph, nil
}

// GetEpisode 读取章节摘要
func (s *SaveService) GetEpisode(ctx context.Context, novelID, episodeID string) (*models.Episode, error) {
	episode, err := s.store.GetEpisode(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 不存在", novelID, episodeID), err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取章节失败", err)
	}
	return episode, nil
}

// UpsertEpisode 写入或更新章节摘要
// 已存在的章节只有作者或协作者可以修改
func (s *SaveService) UpsertEpisode(ctx context.Context, userID string, episode models.Episode) (*models.Episode, error) {
	existing, err := s.store.GetEpisode(ctx, episode.NovelID, episode.EpisodeID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewProcessingError("读取章节失败", err)
	}
	if existing != nil {
		if !existing.IsAuthoredBy(userID) {
			return nil, apperrors.NewForbiddenError("只有作者或协作者可以修改章节", nil)
		}
		episode.AuthorID = existing.AuthorID
		episode.CreatedAt = existing.CreatedAt
	} else {
		episode.AuthorID = userID
	}

	if err := s.store.UpsertEpisode(ctx, episode); err != nil {
		return nil, apperrors.NewProcessingError("写入章节失败", err)
	}
	saved, err := s.store.GetEpisode(ctx, episode.NovelID, episode.EpisodeID)
	if err != nil {
		return nil, apperrors.NewProcessingError("读取章节失败", err)
	}
	return saved, nil
}

// PutScene 写入或更新章节的场景内容（作者侧）
func (s *SaveService) PutScene(ctx context.Context, userID string, scene models.Scene) error {
	episode, err := s.store.GetEpisode(ctx, scene.NovelID, scene.EpisodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 不存在", scene.NovelID, scene.EpisodeID), err)
	}
	if err != nil {
		return apperrors.NewProcessingError("读取章节失败", err)
	}
	if !episode.IsAuthoredBy(userID) {
		return apperrors.NewForbiddenError("只有作者或协作者可以保存场景", nil)
	}
	if err := s.store.PutScene(ctx, scene); err != nil {
		return apperrors.NewProcessingError("写入场景失败", err)
	}
	return nil
}

// DeleteStoryMap 停用章节的活跃故事图
func (s *SaveService) DeleteStoryMap(ctx context.Context, novelID, episodeID, userID string) error {
	episode, err := s.store.GetEpisode(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节 %s/%s 不存在", novelID, episodeID), err)
	}
	if err != nil {
		return apperrors.NewProcessingError("读取章节失败", err)
	}
	if !episode.IsAuthoredBy(userID) {
		return apperrors.NewForbiddenError("只有作者或协作者可以删除故事图", nil)
	}

	if err := s.store.DeactivateGraph(ctx, novelID, episodeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("章节 %s/%s 没有故事图", novelID, episodeID), err)
		}
		return apperrors.NewProcessingError("停用故事图失败", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(novelID, episodeID)
	}
	return nil
}

// persist 执行持久化：存在活跃故事图则整体替换，否则创建版本1
func (s *SaveService) persist(ctx context.Context, novelID, episodeID string, submittedVersion *int64, content storage.GraphContent) (*models.StoryGraph, error) {
	current, err := s.store.GetActiveGraph(ctx, novelID, episodeID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		graph, createErr := s.store.CreateGraph(ctx, novelID, episodeID, s.idGen.GraphID(), content)
		if errors.Is(createErr, storage.ErrDuplicateGraph) {
			// 并发创建：对方先落库，退回到替换路径
			s.logger.Warn("故事图并发创建，转为整体替换", map[string]interface{}{
				"novel_id":   novelID,
				"episode_id": episodeID,
			})
			return s.replaceWithRecovery(ctx, novelID, episodeID, content)
		}
		if createErr != nil {
			return nil, apperrors.NewProcessingError("创建故事图失败", createErr)
		}
		return graph, nil
	case err != nil:
		return nil, apperrors.NewProcessingError("读取故事图失败", err)
	}

	if submittedVersion != nil && *submittedVersion < current.Version {
		s.logger.Warn("提交版本落后于当前版本，以提交内容为准", map[string]interface{}{
			"novel_id":  novelID,
			"submitted": *submittedVersion,
			"current":   current.Version,
		})
	}

	return s.replaceWithRecovery(ctx, novelID, episodeID, content)
}

// replaceWithRecovery 整体替换，唯一约束冲突时执行恢复梯度
func (s *SaveService) replaceWithRecovery(ctx context.Context, novelID, episodeID string, content storage.GraphContent) (*models.StoryGraph, error) {
	graph, err := s.store.ReplaceGraph(ctx, novelID, episodeID, content)
	if err == nil {
		return graph, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("故事图在保存过程中被删除", err)
	}
	if errors.Is(err, storage.ErrDuplicateVariable) {
		return s.recoverFromVariableConflict(ctx, novelID, episodeID, content, err)
	}
	return nil, apperrors.NewProcessingError("保存故事图失败", err)
}

// recoverFromVariableConflict 执行变量唯一约束冲突的恢复梯度
//
// 梯度（按序）：
//  1. 重新读取活跃故事图——已不存在说明章节被并发删除，返回未找到
//  2. 提交变量为空时直接强制替换（空集合不可能再冲突）
//  3. 否则用全新令牌批次为全部变量再生身份后强制替换
//  4. 强制替换匹配数为0——目标文档已被并发删除，终态冲突，绝不盲目重试
//  5. 强制替换本身出错时回退到两步写入（先清空再逐条写入）
//  6. 仍然失败则返回终态错误，逐项列出尝试过的恢复路径
func (s *SaveService) recoverFromVariableConflict(ctx context.Context, novelID, episodeID string, content storage.GraphContent, cause error) (*models.StoryGraph, error) {
	attempts := []string{fmt.Sprintf("整体替换: %v", cause)}

	s.logger.Warn("变量唯一约束冲突，进入恢复梯度", map[string]interface{}{
		"novel_id":   novelID,
		"episode_id": episodeID,
		"error":      cause.Error(),
	})

	current, err := s.store.GetActiveGraph(ctx, novelID, episodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("故事图在保存过程中被删除", err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("冲突恢复时读取故事图失败", err)
	}

	if len(content.Variables) > 0 {
		content.Variables = s.normalizer.RegenerateAllVariableIDs(content.Variables)
		s.logger.Info("已为全部变量再生身份", map[string]interface{}{
			"graph_id": current.ID,
			"count":    len(content.Variables),
		})
	}

	matched, err := s.store.ForceReplaceVariables(ctx, current.ID, content)
	if err == nil {
		if matched == 0 {
			return nil, apperrors.NewConflictError(
				"强制替换未匹配到目标故事图，疑似被并发删除", nil).
				WithField("graph_id", current.ID)
		}
		return s.reload(ctx, current.ID)
	}
	attempts = append(attempts, fmt.Sprintf("强制替换: %v", err))

	// 两步回退：先以空变量集强制替换（承担版本+1），再逐条写入
	stripped := content
	stripped.Variables = nil
	matched, err = s.store.ForceReplaceVariables(ctx, current.ID, stripped)
	if err == nil && matched == 0 {
		return nil, apperrors.NewConflictError(
			"强制替换未匹配到目标故事图，疑似被并发删除", nil).
			WithField("graph_id", current.ID)
	}
	if err == nil {
		if err = s.store.UnsetThenSetVariables(ctx, current.ID, content.Variables); err == nil {
			return s.reload(ctx, current.ID)
		}
	}
	attempts = append(attempts, fmt.Sprintf("两步回退: %v", err))

	appErr := apperrors.NewConflictError(
		fmt.Sprintf("保存冲突恢复失败，已尝试: %s", strings.Join(attempts, "; ")), cause)
	for i, attempt := range attempts {
		appErr.WithField(fmt.Sprintf("attempt_%d", i+1), attempt)
	}
	return nil, appErr
}

// verifySaved 写后读校验：活跃故事图的版本必须不低于刚写入的版本
// SQLite 单机写后读本应立即可见，校验仍然保留以拦截存储异常；
// 有限重试后仍不可见则升级为暂态存储错误
func (s *SaveService) verifySaved(ctx context.Context, novelID, episodeID string, written *models.StoryGraph) (*models.StoryGraph, error) {
	for attempt := 1; ; attempt++ {
		readBack, err := s.store.GetActiveGraph(ctx, novelID, episodeID)
		if err == nil && readBack.ID == written.ID && readBack.Version >= written.Version {
			return readBack, nil
		}

		wait, ok := s.verify.NextWait(attempt)
		if !ok {
			if err != nil {
				return nil, apperrors.NewTransientError("保存后读取校验失败", err)
			}
			return nil, apperrors.NewTransientError(
				fmt.Sprintf("保存后读取校验失败: 期望版本 >= %d，读到 %d",
					written.Version, readBack.Version), nil)
		}
		s.logger.Warn("写后读校验未通过，等待重试", map[string]interface{}{
			"novel_id":   novelID,
			"episode_id": episodeID,
			"attempt":    attempt,
		})
		s.sleep(wait)
	}
}

func (s *SaveService) reload(ctx context.Context, graphID string) (*models.StoryGraph, error) {
	graph, err := s.store.GetGraphByID(ctx, graphID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("故事图在保存过程中被删除", err)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("读取故事图失败", err)
	}
	return graph, nil
}
