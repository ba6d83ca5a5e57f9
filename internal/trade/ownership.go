package trade

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownTrade 表示交易标识不在归属表中。
	ErrUnknownTrade = errors.New("unknown trade")
	// ErrTradeExists 表示交易标识已有归属，归属一经写入不可转移。
	ErrTradeExists = errors.New("trade already assigned")
)

// OwnershipTable 记录交易标识到插件标识的映射，每个键只写一次，条目不会删除。
type OwnershipTable struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewOwnershipTable 创建空归属表。
func NewOwnershipTable() *OwnershipTable {
	return &OwnershipTable{owners: make(map[string]string)}
}

// Assign 写入归属关系。
func (t *OwnershipTable) Assign(tradeID, businessLogicID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.owners[tradeID]; ok {
		return fmt.Errorf("trade: 交易 %q 已归属 %q: %w", tradeID, current, ErrTradeExists)
	}
	t.owners[tradeID] = businessLogicID
	return nil
}

// Owner 返回交易所属插件标识。
func (t *OwnershipTable) Owner(tradeID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	owner, ok := t.owners[tradeID]
	if !ok {
		return "", fmt.Errorf("trade: 交易 %q 不存在: %w", tradeID, ErrUnknownTrade)
	}
	return owner, nil
}

// Len 返回已登记交易数量。
func (t *OwnershipTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.owners)
}
