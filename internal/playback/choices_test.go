// internal/playback/choices_test.go
package playback

import (
	"errors"
	"testing"

	"github.com/Corvane/StoryWeaver/internal/models"
)

func testChoiceGroup() *models.ChoiceGroup {
	return &models.ChoiceGroup{
		GroupID: "cg1",
		Prompt:  "要怎么做？",
		Choices: []models.Choice{
			{
				ID:   "c_accept",
				Text: "接受",
				Actions: []models.Action{
					{ID: "a1", Type: models.ActionModifyVariable, VariableID: "var_trust", Operation: models.VariableOpAdd, Value: float64(10)},
					{ID: "a2", Type: models.ActionNavigateToNode, TargetNodeID: "node_a"},
					{ID: "a3", Type: models.ActionNavigateToNode, TargetNodeID: "node_b"},
				},
				IsMajorChoice: true,
				FeedbackText:  "信任上升了",
			},
			{
				ID:   "c_refuse",
				Text: "拒绝",
				Actions: []models.Action{
					{ID: "a4", Type: models.ActionModifyVariable, VariableID: "var_trust", Operation: models.VariableOpSubtract, Value: float64(5)},
				},
			},
		},
	}
}

func TestSelectChoiceAppliesActionsInOrder(t *testing.T) {
	t.Parallel()

	vs := NewVariableStore([]models.Variable{
		{VariableID: "var_trust", Name: "trust", DataType: "number", InitialValue: float64(0)},
	})
	resolver := NewChoiceResolver(vs)
	resolver.SetActiveGroup(testChoiceGroup())

	result, err := resolver.SelectChoice("c_accept")
	if err != nil {
		t.Fatalf("SelectChoice 失败: %v", err)
	}

	if v, _ := vs.Get("var_trust"); v != float64(10) {
		t.Fatalf("变量动作未应用: %v", v)
	}
	// 重复的导航动作以最后一个为准
	if result.NextNodeID != "node_b" {
		t.Fatalf("NextNodeID = %q, 期望最后一个导航目标 node_b", result.NextNodeID)
	}
	if !result.IsMajorChoice || result.FeedbackText != "信任上升了" {
		t.Fatalf("选择元数据缺失: %+v", result)
	}
	if len(result.AppliedActions) != 3 {
		t.Fatalf("应用的动作数 = %d, 期望 3", len(result.AppliedActions))
	}
}

func TestSelectChoiceUnknownIDRejectedWithoutStateChange(t *testing.T) {
	t.Parallel()

	vs := NewVariableStore([]models.Variable{
		{VariableID: "var_trust", Name: "trust", DataType: "number", InitialValue: float64(0)},
	})
	resolver := NewChoiceResolver(vs)
	resolver.SetActiveGroup(testChoiceGroup())

	_, err := resolver.SelectChoice("c_missing")
	if !errors.Is(err, ErrChoiceNotFound) {
		t.Fatalf("期望 ErrChoiceNotFound, 实际: %v", err)
	}

	// 拒绝后选项组仍然激活，变量未变
	if resolver.ActiveGroup() == nil {
		t.Fatal("无效选择不应隐藏选项组")
	}
	if v, _ := vs.Get("var_trust"); v != float64(0) {
		t.Fatalf("无效选择修改了变量: %v", v)
	}

	// 合法选择仍然可以进行
	if _, err := resolver.SelectChoice("c_refuse"); err != nil {
		t.Fatalf("拒绝后合法选择失败: %v", err)
	}
}

func TestSelectChoiceSingleResolution(t *testing.T) {
	t.Parallel()

	vs := NewVariableStore(nil)
	resolver := NewChoiceResolver(vs)
	resolver.SetActiveGroup(testChoiceGroup())

	if _, err := resolver.SelectChoice("c_refuse"); err != nil {
		t.Fatalf("首次选择失败: %v", err)
	}

	// 解析完成后选项组隐藏，二次选择被拒绝
	if resolver.ActiveGroup() != nil {
		t.Fatal("解析完成后选项组应隐藏")
	}
	if _, err := resolver.SelectChoice("c_accept"); !errors.Is(err, ErrNoActiveChoices) {
		t.Fatalf("二次选择应返回 ErrNoActiveChoices, 实际: %v", err)
	}
}

// 算术失败的动作被跳过，后续动作继续
func TestSelectChoiceArithmeticFailureContinues(t *testing.T) {
	t.Parallel()

	vs := NewVariableStore(nil)
	vs.Set("var_bad", "不是数字")

	group := &models.ChoiceGroup{
		GroupID: "cg",
		Choices: []models.Choice{{
			ID: "c1",
			Actions: []models.Action{
				{ID: "a1", Type: models.ActionModifyVariable, VariableID: "var_bad", Operation: models.VariableOpAdd, Value: float64(1)},
				{ID: "a2", Type: models.ActionNavigateToNode, TargetNodeID: "node_next"},
			},
		}},
	}
	resolver := NewChoiceResolver(vs)
	resolver.SetActiveGroup(group)

	result, err := resolver.SelectChoice("c1")
	if err != nil {
		t.Fatalf("算术失败不应中断选择: %v", err)
	}
	if result.NextNodeID != "node_next" {
		t.Fatalf("后续动作未应用: %+v", result)
	}
	if v, _ := vs.Get("var_bad"); v != "不是数字" {
		t.Fatalf("算术失败后变量被修改: %v", v)
	}
	// 失败的动作不计入已应用集合
	if len(result.AppliedActions) != 1 || result.AppliedActions[0].ID != "a2" {
		t.Fatalf("已应用动作 = %+v, 期望只有 a2", result.AppliedActions)
	}
}

func TestSelectChoiceNoActiveGroup(t *testing.T) {
	t.Parallel()

	resolver := NewChoiceResolver(NewVariableStore(nil))
	if _, err := resolver.SelectChoice("c1"); !errors.Is(err, ErrNoActiveChoices) {
		t.Fatalf("期望 ErrNoActiveChoices, 实际: %v", err)
	}
}
