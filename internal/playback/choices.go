// internal/playback/choices.go
package playback

import (
	"fmt"

	"github.com/Corvane/StoryWeaver/internal/models"
	"github.com/Corvane/StoryWeaver/internal/utils"
)

// ChoiceResult 表示一次选择的解析结果
type ChoiceResult struct {
	ChoiceID       string          `json:"choice_id"`
	AppliedActions []models.Action `json:"applied_actions"`
	NextNodeID     string          `json:"next_node_id,omitempty"`
	FeedbackText   string          `json:"feedback_text,omitempty"`
	IsMajorChoice  bool            `json:"is_major_choice"`
}

// ErrNoActiveChoices 表示当前没有激活的选项组
var ErrNoActiveChoices = fmt.Errorf("当前没有激活的选项组")

// ErrChoiceNotFound 表示选项不在激活集合内
var ErrChoiceNotFound = fmt.Errorf("选项不在激活的选项组内")

// ErrAlreadyResolving 表示上一次选择尚未解析完成（单次选择锁）
var ErrAlreadyResolving = fmt.Errorf("选择正在解析中")

// ChoiceResolver 解析激活选项组中的选择并应用其动作
type ChoiceResolver struct {
	vars      *VariableStore
	active    *models.ChoiceGroup
	resolving bool
	logger    *utils.Logger
}

// NewChoiceResolver 创建选项解析器
func NewChoiceResolver(vars *VariableStore) *ChoiceResolver {
	return &ChoiceResolver{
		vars:   vars,
		logger: utils.GetLogger(),
	}
}

// SetActiveGroup 设置当前激活的选项组
func (r *ChoiceResolver) SetActiveGroup(group *models.ChoiceGroup) {
	r.active = group
	r.resolving = false
}

// ActiveGroup 返回当前激活的选项组
func (r *ChoiceResolver) ActiveGroup() *models.ChoiceGroup {
	return r.active
}

// SelectChoice 解析一次选择
//
// 激活集合之外的 choiceID 被拒绝且不产生任何状态变化；
// 解析进行中的二次选择被忽略（单次选择锁），防止动作被重复应用。
// 动作按声明顺序派发，navigate-to-node 重复出现时以最后一个为准。
func (r *ChoiceResolver) SelectChoice(choiceID string) (*ChoiceResult, error) {
	if r.active == nil {
		return nil, ErrNoActiveChoices
	}
	if r.resolving {
		return nil, ErrAlreadyResolving
	}

	var choice *models.Choice
	for i := range r.active.Choices {
		if r.active.Choices[i].ID == choiceID {
			choice = &r.active.Choices[i]
			break
		}
	}
	if choice == nil {
		return nil, fmt.Errorf("%w: %s", ErrChoiceNotFound, choiceID)
	}

	r.resolving = true
	defer func() {
		// 动作应用完成后选项组隐藏
		r.active = nil
		r.resolving = false
	}()

	result := &ChoiceResult{
		ChoiceID:      choice.ID,
		FeedbackText:  choice.FeedbackText,
		IsMajorChoice: choice.IsMajorChoice,
	}

	for _, action := range choice.Actions {
		switch action.Type {
		case models.ActionNavigateToNode:
			// 最后一个导航动作生效
			result.NextNodeID = action.TargetNodeID
		case models.ActionModifyVariable, models.ActionSetGameVariable:
			if err := r.vars.Apply(action.Operation, action.VariableID, action.Value); err != nil {
				// 算术失败不中断后续动作，变量保持原值
				r.logger.Warn("变量动作应用失败", map[string]interface{}{
					"action_id": action.ID,
					"variable":  action.VariableID,
					"error":     err.Error(),
				})
				continue
			}
		case models.ActionModifyRelationshipStat:
			if err := r.vars.ApplyStat(action.Operation, action.CharacterID, action.StatName, action.Value); err != nil {
				r.logger.Warn("角色数值动作应用失败", map[string]interface{}{
					"action_id": action.ID,
					"character": action.CharacterID,
					"error":     err.Error(),
				})
				continue
			}
		default:
			r.logger.Warn("忽略未知动作类型", map[string]interface{}{
				"action_id": action.ID,
				"type":      string(action.Type),
			})
			continue
		}
		result.AppliedActions = append(result.AppliedActions, action)
	}

	return result, nil
}
