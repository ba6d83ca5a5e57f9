package plugin

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrDuplicateRegistration 表示同一插件标识被重复注册，启动阶段应视为致命错误。
	ErrDuplicateRegistration = errors.New("duplicate business logic registration")
	// ErrNotFound 表示请求引用了未注册的插件标识。
	ErrNotFound = errors.New("business logic not found")
)

// Entry 为注册表中的一项。
type Entry struct {
	ID      string
	Handler Handler
}

// Registry 按注册顺序保存插件，该顺序是事件路由各阶段的确定性决胜顺序。
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register 追加插件，标识重复时返回 ErrDuplicateRegistration。
func (r *Registry) Register(id string, handler Handler) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("plugin: 插件标识不能为空")
	}
	if handler == nil {
		return fmt.Errorf("plugin: 插件 %q 实例不能为空", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return fmt.Errorf("plugin: 插件 %q 已注册: %w", id, ErrDuplicateRegistration)
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, Entry{ID: id, Handler: handler})
	return nil
}

// Lookup 按标识查找插件。
func (r *Registry) Lookup(id string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("plugin: 插件 %q 未注册: %w", id, ErrNotFound)
	}
	return r.entries[pos].Handler, nil
}

// All 返回按注册顺序排列的快照，调用方修改切片不会影响注册表。
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// IDs 返回按注册顺序排列的插件标识。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Len 返回已注册插件数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
