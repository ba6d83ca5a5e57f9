package trade

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	FormatUUID     = "uuid"
	FormatSequence = "sequence"
)

// Generator 生成进程生命周期内唯一的交易标识，必须支持并发调用。
type Generator interface {
	Generate() (string, error)
}

// UUIDGenerator 使用按时间排序的 UUIDv7 作为交易标识。
type UUIDGenerator struct{}

// Generate 返回新的 UUIDv7 字符串。
func (UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("trade: 生成交易标识失败: %w", err)
	}
	return id.String(), nil
}

// SequenceGenerator 生成形如 20060102150405-1 的标识，后缀为原子自增计数器。
type SequenceGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewSequenceGenerator 创建计数器型生成器。
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{now: time.Now}
}

// Generate 返回新的序列标识，计数器不回绕，因此时间相同也不会重复。
func (g *SequenceGenerator) Generate() (string, error) {
	n := g.counter.Add(1)
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return fmt.Sprintf("%s-%d", now().UTC().Format("20060102150405"), n), nil
}

// NewGenerator 根据配置的格式创建生成器。
func NewGenerator(format string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatUUID:
		return UUIDGenerator{}, nil
	case FormatSequence:
		return NewSequenceGenerator(), nil
	default:
		return nil, fmt.Errorf("trade: 不支持的交易标识格式 %q", format)
	}
}
