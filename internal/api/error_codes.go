// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"
	ErrorUnauthorized  = "UNAUTHORIZED"

	// 故事图相关错误
	ErrorStoryMapNotFound = "STORY_MAP_NOT_FOUND"
	ErrorStoryMapInvalid  = "STORY_MAP_INVALID"
	ErrorSaveConflict     = "SAVE_CONFLICT"
	ErrorSaveTransient    = "SAVE_TRANSIENT"

	// 章节相关错误
	ErrorEpisodeNotFound = "EPISODE_NOT_FOUND"
	ErrorEpisodeInvalid  = "EPISODE_INVALID"

	// 场景相关错误
	ErrorSceneNotFound = "SCENE_NOT_FOUND"
	ErrorSceneInvalid  = "SCENE_INVALID"

	// 播放会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSessionClosed   = "SESSION_CLOSED"
	ErrorChoiceInvalid   = "CHOICE_INVALID"
	ErrorAwaitingChoice  = "AWAITING_CHOICE"
)
