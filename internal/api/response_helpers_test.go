// internal/api/response_helpers_test.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Corvane/StoryWeaver/internal/errors"
	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/playback"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v\n%s", err, recorder.Body.String())
	}
	return response
}

func TestAppErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"校验错误", apperrors.NewValidationError("字段无效", nil), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"未找到", apperrors.NewNotFoundError("章节不存在", nil), http.StatusNotFound, "NOT_FOUND"},
		{"未认证", apperrors.NewUnauthorizedError("请先登录", nil), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"禁止", apperrors.NewForbiddenError("无权操作", nil), http.StatusForbidden, "FORBIDDEN"},
		{"终态冲突", apperrors.NewConflictError("保存冲突", nil), http.StatusConflict, "CONFLICT"},
		{"暂态存储", apperrors.NewTransientError("写后读校验失败", nil), http.StatusServiceUnavailable, "TRANSIENT_STORE_ERROR"},
		{"处理错误", apperrors.NewProcessingError("内部失败", nil), http.StatusInternalServerError, "PROCESSING_ERROR"},
		{"非AppError", errors.New("未知错误"), http.StatusInternalServerError, ErrorInternalError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, recorder := newTestContext()
			NewResponseHelper().AppError(c, tc.err)

			if recorder.Code != tc.wantStatus {
				t.Fatalf("状态码 = %d, 期望 %d", recorder.Code, tc.wantStatus)
			}
			response := decodeResponse(t, recorder)
			if response.Success {
				t.Fatal("错误响应 success 应为 false")
			}
			if response.Error == nil || response.Error.Code != tc.wantCode {
				t.Fatalf("错误代码 = %+v, 期望 %s", response.Error, tc.wantCode)
			}
		})
	}
}

// 冲突错误的字段级详情随响应返回
func TestAppErrorCarriesFields(t *testing.T) {
	t.Parallel()

	err := apperrors.NewConflictError("保存冲突恢复失败", nil).
		WithField("attempt_1", "整体替换: 唯一约束冲突").
		WithField("attempt_2", "强制替换: 失败")

	c, recorder := newTestContext()
	NewResponseHelper().AppError(c, err)

	response := decodeResponse(t, recorder)
	if response.Error.Fields["attempt_1"] == "" || response.Error.Fields["attempt_2"] == "" {
		t.Fatalf("字段级详情丢失: %+v", response.Error.Fields)
	}
}

// 含敏感词的错误消息被替换，不泄漏到客户端
func TestErrorMessageSanitized(t *testing.T) {
	t.Parallel()

	c, recorder := newTestContext()
	NewResponseHelper().InternalError(c, "signing secret mismatch")

	response := decodeResponse(t, recorder)
	if response.Error.Message != "内部处理错误" {
		t.Fatalf("敏感消息未过滤: %q", response.Error.Message)
	}
}

func TestPlaybackErrorMapping(t *testing.T) {
	t.Parallel()

	h := &Handler{ResponseHelper: NewResponseHelper()}

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"会话已关闭", playback.ErrSessionClosed, http.StatusGone, ErrorSessionClosed},
		{"等待选择", playback.ErrAwaitingChoice, http.StatusConflict, ErrorAwaitingChoice},
		{"无激活选项组", playback.ErrNoActiveChoices, http.StatusBadRequest, ErrorChoiceInvalid},
		{"未知选项", playback.ErrChoiceNotFound, http.StatusBadRequest, ErrorChoiceInvalid},
		{"重复解析", playback.ErrAlreadyResolving, http.StatusBadRequest, ErrorChoiceInvalid},
		{"应用层错误透传", apperrors.NewNotFoundError("会话不存在", nil), http.StatusNotFound, "NOT_FOUND"},
		{"其他错误", errors.New("意外"), http.StatusInternalServerError, ErrorInternalError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, recorder := newTestContext()
			h.playbackError(c, tc.err, models.PlaybackState{Phase: models.PhaseAwaitingChoice})

			if recorder.Code != tc.wantStatus {
				t.Fatalf("状态码 = %d, 期望 %d", recorder.Code, tc.wantStatus)
			}
			response := decodeResponse(t, recorder)
			if response.Error == nil || response.Error.Code != tc.wantCode {
				t.Fatalf("错误代码 = %+v, 期望 %s", response.Error, tc.wantCode)
			}
		})
	}
}

// 等待选择的冲突响应携带当前会话状态
func TestPlaybackAwaitingChoiceCarriesState(t *testing.T) {
	t.Parallel()

	h := &Handler{ResponseHelper: NewResponseHelper()}
	c, recorder := newTestContext()
	h.playbackError(c, playback.ErrAwaitingChoice, models.PlaybackState{Phase: models.PhaseAwaitingChoice})

	var response struct {
		Data models.PlaybackState `json:"data"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if response.Data.Phase != models.PhaseAwaitingChoice {
		t.Fatalf("响应应携带会话状态: %+v", response.Data)
	}
}
