package cache

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-tiercache/logger"
	"github.com/shirou/gopsutil/v4/mem"
)

// PressureSource delivers a signal when the system runs critically low on
// memory. OnCritical returns a function that unsubscribes handler.
type PressureSource interface {
	OnCritical(handler func()) (cancel func())
}

// NoPressure is a PressureSource that never fires, for platforms or
// deployments without a usable memory signal.
type NoPressure struct{}

func (NoPressure) OnCritical(func()) func() { return func() {} }

// DefaultPressureThreshold is the used-memory percentage at which a
// MemoryMonitor reports critical pressure.
const DefaultPressureThreshold = 95.0

// MemoryMonitor polls system memory usage and notifies its handlers each
// time usage crosses above the threshold.
type MemoryMonitor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	threshold float64
	interval  time.Duration
	logger    logger.Logger
	sample    func(ctx context.Context) (float64, error)

	mu       sync.Mutex
	handlers map[uint64]func()
	nextID   uint64
	critical bool

	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ PressureSource = (*MemoryMonitor)(nil)

// NewMemoryMonitor starts polling memory usage every interval until ctx is
// cancelled or Close is called. A threshold <= 0 uses
// DefaultPressureThreshold.
func NewMemoryMonitor(parent context.Context, threshold float64, interval time.Duration, opts ...Option) *MemoryMonitor {
	cfg := applyOptions(opts)
	if threshold <= 0 {
		threshold = DefaultPressureThreshold
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	m := &MemoryMonitor{
		ctx:       ctx,
		cancel:    cancel,
		threshold: threshold,
		interval:  interval,
		logger:    cfg.logger.WithPrefix("[pressure]"),
		sample:    usedMemoryPercent,
	}
	m.waitGroup.Add(1)
	go m.run()
	return m
}

func usedMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// OnCritical registers handler to run each time memory usage becomes
// critical, until the returned cancel is called.
func (m *MemoryMonitor) OnCritical(handler func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[uint64]func())
	}
	m.nextID++
	id := m.nextID
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// Subscribers returns the number of registered handlers.
func (m *MemoryMonitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// Close stops polling.
func (m *MemoryMonitor) Close() error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

func (m *MemoryMonitor) run() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *MemoryMonitor) check() {
	used, err := m.sample(m.ctx)
	if err != nil {
		m.logger.Debug("failed to sample memory usage: %s", err)
		return
	}
	m.mu.Lock()
	wasCritical := m.critical
	m.critical = used >= m.threshold
	var handlers []func()
	if m.critical && !wasCritical {
		for _, handler := range m.handlers {
			handlers = append(handlers, handler)
		}
	}
	m.mu.Unlock()
	if len(handlers) == 0 {
		return
	}
	m.logger.Info("memory usage %.1f%% crossed %.1f%%, notifying %d handlers", used, m.threshold, len(handlers))
	for _, handler := range handlers {
		handler()
	}
}
