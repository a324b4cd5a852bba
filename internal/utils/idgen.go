// internal/utils/idgen.go
package utils

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenSource 提供随机会话令牌
// 生产环境使用 UUID，测试可注入确定性实现
type TokenSource interface {
	Token() string
}

// UUIDTokenSource 基于 UUID 的随机令牌源
type UUIDTokenSource struct{}

// Token 返回一个去掉连字符的短随机令牌
func (UUIDTokenSource) Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SeededTokenSource 确定性令牌源，用于测试
type SeededTokenSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededTokenSource 用固定种子创建确定性令牌源
func NewSeededTokenSource(seed int64) *SeededTokenSource {
	return &SeededTokenSource{rng: rand.New(rand.NewSource(seed))}
}

// Token 返回一个确定性十六进制令牌
func (s *SeededTokenSource) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%012x", s.rng.Int63()&0xffffffffffff)
}

// IDGenerator 是标识生成上下文
// 变量身份再生依赖 (时间戳, 会话令牌, 条目序号, 随机后缀) 四元组；
// 时间源与令牌源显式注入，保证规范化流水线可被确定性测试
type IDGenerator struct {
	now    func() time.Time
	tokens TokenSource

	mu           sync.Mutex
	sessionToken string
	seq          int64
}

// NewIDGenerator 创建生产用的标识生成器
func NewIDGenerator() *IDGenerator {
	return NewIDGeneratorWith(time.Now, UUIDTokenSource{})
}

// NewIDGeneratorWith 用显式时间源与令牌源创建标识生成器
func NewIDGeneratorWith(now func() time.Time, tokens TokenSource) *IDGenerator {
	return &IDGenerator{
		now:          now,
		tokens:       tokens,
		sessionToken: tokens.Token(),
	}
}

// RefreshSession 更换会话令牌（冲突恢复时为整批变量再生身份前调用）
func (g *IDGenerator) RefreshSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionToken = g.tokens.Token()
}

// VariableID 为第 index 个变量生成新身份
func (g *IDGenerator) VariableID(index int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("var_%d_%s_%d_%s",
		g.now().UnixMilli(), g.sessionToken, index, g.tokens.Token()[:6])
}

// NodeID 为合成的节点生成标识
func (g *IDGenerator) NodeID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("node_%d_%d", g.now().UnixMilli(), g.seq)
}

// EdgeID 为合成的连接生成标识
func (g *IDGenerator) EdgeID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("edge_%d_%d", g.now().UnixMilli(), g.seq)
}

// GraphID 为新建的故事图生成标识
func (g *IDGenerator) GraphID() string {
	return "graph_" + uuid.NewString()
}

// SessionID 为播放会话生成标识
func (g *IDGenerator) SessionID() string {
	return "ps_" + uuid.NewString()
}
