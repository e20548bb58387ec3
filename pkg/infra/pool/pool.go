// Package pool 封装 ants 协程池，为重排序等扇出场景提供有界并发。
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

var (
	// ErrPoolClosed 池已关闭。
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolOverload 池已满且配置为非阻塞。
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// Config defines the configuration for the worker pool.
type Config struct {
	// Capacity 池容量（最大并发 goroutine 数）。
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间。
	ExpiryDuration time.Duration
	// PreAlloc 是否预分配内存。
	PreAlloc bool
	// Nonblocking 提交任务是否非阻塞（若池满则返回错误）。
	Nonblocking bool
	// MaxBlockingTasks 当 Nonblocking=false 时，最大等待任务数（0 表示无限制）。
	MaxBlockingTasks int
	// PanicHandler 恐慌处理函数。
	PanicHandler func(interface{})
}

// DefaultConfig 返回默认池配置。
func DefaultConfig() *Config {
	return &Config{
		Capacity:         100,
		ExpiryDuration:   10 * time.Second,
		PreAlloc:         false,
		Nonblocking:      false,
		MaxBlockingTasks: 0,
	}
}

// RerankConfig 返回重排序扇出池配置。
// 容量限制并发 LLM 评分调用数，池满时提交方阻塞等待。
func RerankConfig(capacity int) *Config {
	if capacity <= 0 {
		capacity = 8
	}
	return &Config{
		Capacity:         capacity,
		ExpiryDuration:   30 * time.Second,
		PreAlloc:         false,
		Nonblocking:      false,
		MaxBlockingTasks: 0,
	}
}

// Pool represents a worker pool.
type Pool struct {
	name   string
	pool   *ants.Pool
	config *Config
	stats  *statsCounter
	closed atomic.Bool
	mu     sync.Mutex
}

type statsCounter struct {
	Submitted      atomic.Int64
	Completed      atomic.Int64
	Failed         atomic.Int64
	Rejected       atomic.Int64
	PanicRecovered atomic.Int64
}

// Stats contains statistics about the worker pool.
type Stats struct {
	Submitted      int64
	Completed      int64
	Failed         int64
	Rejected       int64
	PanicRecovered int64
}

// New creates a new worker pool with the given configuration.
func New(name string, config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Pool{
		name:   name,
		config: config,
		stats:  &statsCounter{},
	}

	opts := []ants.Option{
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
	}
	if config.PanicHandler != nil {
		opts = append(opts, ants.WithPanicHandler(config.PanicHandler))
	} else {
		opts = append(opts, ants.WithPanicHandler(func(r interface{}) {
			logger.Errorw("Worker panic recovered", "pool", name, "panic", r)
		}))
	}

	inner, err := ants.NewPool(config.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = inner

	logger.Infow("Worker pool created", "name", name, "capacity", config.Capacity)
	return p, nil
}

// Name 返回池名称。
func (p *Pool) Name() string {
	return p.name
}

// Cap 返回池容量。
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running 返回正在运行的 goroutine 数量。
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 返回可用 goroutine 数量。
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Submit 提交任务到池中执行。
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		p.stats.Submitted.Add(1)

		defer func() {
			if r := recover(); r != nil {
				p.stats.PanicRecovered.Add(1)
				p.stats.Failed.Add(1)
				// Re-panic to let ants PanicHandler handle it
				panic(r)
			}
			p.stats.Completed.Add(1)
		}()

		task()
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.stats.Rejected.Add(1)
			return ErrPoolOverload
		}
		p.stats.Failed.Add(1)
		return err
	}

	return nil
}

// Release 关闭池并释放资源。
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return
	}

	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 带超时关闭池，等待在途任务完成。
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil
	}

	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Stats 返回池统计信息快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:      p.stats.Submitted.Load(),
		Completed:      p.stats.Completed.Load(),
		Failed:         p.stats.Failed.Load(),
		Rejected:       p.stats.Rejected.Load(),
		PanicRecovered: p.stats.PanicRecovered.Load(),
	}
}
