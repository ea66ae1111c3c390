package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// RouteCache 路由缓存：按状态指纹记忆调度决策
//
// 纯优化组件 —— 关闭缓存后调度语义完全不变。缓存与检查点存储是
// 仅有的两个需要内部同步的组件（可能在控制循环之外被访问）。
type RouteCache struct {
	entries map[string]routeEntry
	ttl     time.Duration
	mu      sync.Mutex

	hits   uint64
	misses uint64

	stopCh   chan struct{}
	stopOnce sync.Once
}

type routeEntry struct {
	decision  Decision
	expiresAt time.Time
}

// NewRouteCache 创建路由缓存，ttl <= 0 时使用默认 1 小时
func NewRouteCache(ttl time.Duration) *RouteCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &RouteCache{
		entries: make(map[string]routeEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get 查询缓存决策；过期条目按未命中处理并被清除
func (c *RouteCache) Get(fingerprint string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return Decision{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, fingerprint)
		c.misses++
		return Decision{}, false
	}
	c.hits++
	return e.decision, true
}

// Put 写入缓存决策
func (c *RouteCache) Put(fingerprint string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = routeEntry{
		decision:  d,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Stats 返回命中/未命中计数
func (c *RouteCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len 返回当前缓存条目数
func (c *RouteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 停止后台清理
func (c *RouteCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// sweepLoop 周期性清除过期条目
func (c *RouteCache) sweepLoop() {
	interval := c.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Fingerprint 计算状态指纹：请求任务集、已完成步骤集、各结果存在性
// 与等待标记的哈希。任何一项变化都会使旧条目失效（键不再匹配）。
func Fingerprint(state *RunState) string {
	var b strings.Builder

	requested := make([]string, 0, len(state.Requested))
	for _, t := range state.Requested {
		requested = append(requested, string(t))
	}
	sort.Strings(requested)
	b.WriteString("req:")
	b.WriteString(strings.Join(requested, ","))

	completed := make([]string, 0, len(state.Completed))
	for id := range state.Completed {
		completed = append(completed, id)
	}
	sort.Strings(completed)
	b.WriteString("|done:")
	b.WriteString(strings.Join(completed, ","))

	// 步骤状态参与指纹：重试/跳过改变可运行集
	statuses := make([]string, 0, len(state.Plan.Steps))
	for _, s := range state.Plan.Steps {
		statuses = append(statuses, s.ID+"="+string(s.Status))
	}
	sort.Strings(statuses)
	b.WriteString("|steps:")
	b.WriteString(strings.Join(statuses, ","))

	present := make([]string, 0, len(state.Results))
	for t := range state.Results {
		present = append(present, string(t))
	}
	sort.Strings(present)
	b.WriteString("|results:")
	b.WriteString(strings.Join(present, ","))

	if state.WaitingForHuman {
		b.WriteString("|waiting")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
