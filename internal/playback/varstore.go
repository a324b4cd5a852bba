// internal/playback/varstore.go
// Package playback 实现阅读端的故事图播放引擎：
// 变量存储、时间轴调度、选项解析与播放会话状态机。
// 本包是纯引擎，不做任何I/O；存取与网络由上层服务负责。
package playback

import (
	"fmt"
	"strconv"

	"github.com/Corvane/StoryWeaver/internal/models"
)

// VariableStore 是一个故事图作用域内的类型化变量存储
// 播放期间由唯一的会话独占，不需要内部加锁
type VariableStore struct {
	defs   map[string]models.Variable
	values map[string]interface{}
	stats  map[string]float64 // 角色关系数值，键为 characterID/statName
}

// NewVariableStore 根据变量声明初始化存储
func NewVariableStore(variables []models.Variable) *VariableStore {
	vs := &VariableStore{
		defs:   make(map[string]models.Variable, len(variables)),
		values: make(map[string]interface{}, len(variables)),
		stats:  make(map[string]float64),
	}
	for _, v := range variables {
		vs.defs[v.VariableID] = v
		vs.values[v.VariableID] = defaultValue(v)
	}
	return vs
}

// defaultValue 返回变量的初始值，缺省时按数据类型取零值
func defaultValue(v models.Variable) interface{} {
	if v.InitialValue != nil {
		return v.InitialValue
	}
	switch v.DataType {
	case "number":
		return float64(0)
	case "boolean":
		return false
	default:
		return ""
	}
}

// Get 读取变量值
func (vs *VariableStore) Get(variableID string) (interface{}, bool) {
	value, ok := vs.values[variableID]
	return value, ok
}

// Set 直接设置变量值（未声明的变量也允许写入，set-game-variable 依赖此行为）
func (vs *VariableStore) Set(variableID string, value interface{}) {
	vs.values[variableID] = value
}

// Apply 对变量执行一次运算
// 算术运算不做上下限裁剪，数值边界由作者自行负责
func (vs *VariableStore) Apply(op models.VariableOp, variableID string, operand interface{}) error {
	if op == models.VariableOpSet || op == "" {
		vs.values[variableID] = operand
		return nil
	}

	current, _ := vs.values[variableID]
	base, ok := toNumber(current)
	if !ok {
		base = 0
		if current != nil {
			return fmt.Errorf("变量 %s 的当前值不是数值，无法执行 %s", variableID, op)
		}
	}
	delta, ok := toNumber(operand)
	if !ok {
		return fmt.Errorf("变量 %s 的操作数不是数值，无法执行 %s", variableID, op)
	}

	switch op {
	case models.VariableOpAdd:
		vs.values[variableID] = base + delta
	case models.VariableOpSubtract:
		vs.values[variableID] = base - delta
	case models.VariableOpMultiply:
		vs.values[variableID] = base * delta
	default:
		return fmt.Errorf("不支持的变量运算: %s", op)
	}
	return nil
}

// ApplyStat 对角色关系数值执行一次运算
func (vs *VariableStore) ApplyStat(op models.VariableOp, characterID, statName string, operand interface{}) error {
	key := characterID + "/" + statName
	delta, ok := toNumber(operand)
	if !ok {
		return fmt.Errorf("角色数值 %s 的操作数不是数值", key)
	}

	switch op {
	case models.VariableOpSet, "":
		vs.stats[key] = delta
	case models.VariableOpAdd:
		vs.stats[key] += delta
	case models.VariableOpSubtract:
		vs.stats[key] -= delta
	case models.VariableOpMultiply:
		vs.stats[key] *= delta
	default:
		return fmt.Errorf("不支持的数值运算: %s", op)
	}
	return nil
}

// GetStat 读取角色关系数值
func (vs *VariableStore) GetStat(characterID, statName string) float64 {
	return vs.stats[characterID+"/"+statName]
}

// Snapshot 返回当前全部变量值的副本（按变量名索引，便于展示）
func (vs *VariableStore) Snapshot() map[string]interface{} {
	snapshot := make(map[string]interface{}, len(vs.values))
	for id, value := range vs.values {
		key := id
		if def, ok := vs.defs[id]; ok && def.Name != "" {
			key = def.Name
		}
		snapshot[key] = value
	}
	return snapshot
}

// toNumber 尽力把任意JSON值转为数值
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
