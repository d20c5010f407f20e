package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
	RegisterCheck(name string, checker ComponentChecker)
	StartPeriodicChecks(interval time.Duration)
	StopPeriodicChecks()
	GetComponentStatus(component string) *ComponentHealth
}

type ComponentChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
	// Critical components make the service unhealthy when they fail
	Critical() bool
}

type HealthStatus struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
	Summary    *HealthSummary              `json:"summary"`
}

type ComponentHealth struct {
	Status      string        `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type HealthSummary struct {
	TotalComponents     int `json:"total_components"`
	HealthyComponents   int `json:"healthy_components"`
	UnhealthyComponents int `json:"unhealthy_components"`
}

type healthChecker struct {
	checkers  map[string]ComponentChecker
	status    map[string]*ComponentHealth
	startTime time.Time
	version   string
	ticker    *time.Ticker
	stopChan  chan struct{}
	stopOnce  sync.Once
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) HealthChecker {
	return &healthChecker{
		checkers:  make(map[string]ComponentChecker),
		status:    make(map[string]*ComponentHealth),
		startTime: time.Now(),
		version:   version,
		stopChan:  make(chan struct{}),
	}
}

func (h *healthChecker) RegisterCheck(name string, checker ComponentChecker) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.checkers[name] = checker
	h.status[name] = &ComponentHealth{Status: StatusUnknown}
}

// CheckHealth runs every registered check. A failing critical component makes
// the service unhealthy; any other failure only degrades it.
func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	overallStatus := StatusHealthy
	summary := &HealthSummary{
		TotalComponents: len(h.checkers),
	}

	for name, checker := range h.checkers {
		componentHealth := h.checkComponent(ctx, checker)
		h.status[name] = componentHealth

		if componentHealth.Status == StatusHealthy {
			summary.HealthyComponents++
			continue
		}
		summary.UnhealthyComponents++
		if checker.Critical() {
			overallStatus = StatusUnhealthy
		} else if overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return &HealthStatus{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: h.copyStatus(),
		Summary:    summary,
	}
}

func (h *healthChecker) checkComponent(ctx context.Context, checker ComponentChecker) *ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	err := checker.Check(checkCtx)

	componentHealth := &ComponentHealth{
		Status:      StatusHealthy,
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}
	if err != nil {
		componentHealth.Status = StatusUnhealthy
		componentHealth.Error = err.Error()
	}
	return componentHealth
}

func (h *healthChecker) copyStatus() map[string]*ComponentHealth {
	copied := make(map[string]*ComponentHealth, len(h.status))
	for name, status := range h.status {
		c := *status
		copied[name] = &c
	}
	return copied
}

func (h *healthChecker) GetComponentStatus(component string) *ComponentHealth {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if status, exists := h.status[component]; exists {
		c := *status
		return &c
	}
	return nil
}

func (h *healthChecker) StartPeriodicChecks(interval time.Duration) {
	h.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-h.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				h.CheckHealth(ctx)
				cancel()
			case <-h.stopChan:
				return
			}
		}
	}()
}

func (h *healthChecker) StopPeriodicChecks() {
	h.stopOnce.Do(func() {
		if h.ticker != nil {
			h.ticker.Stop()
		}
		close(h.stopChan)
	})
}

// Built-in component checkers

// Pinger is satisfied by the storage adapters
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker pings the configured storage backend
type StoreChecker struct {
	name  string
	store Pinger
}

func NewStoreChecker(name string, store Pinger) ComponentChecker {
	return &StoreChecker{name: name, store: store}
}

func (s *StoreChecker) Name() string           { return s.name }
func (s *StoreChecker) Timeout() time.Duration { return 5 * time.Second }
func (s *StoreChecker) Critical() bool         { return true }

func (s *StoreChecker) Check(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RedisChecker pings the shared counter store
type RedisChecker struct {
	name   string
	client redis.UniversalClient
}

func NewRedisChecker(name string, client redis.UniversalClient) ComponentChecker {
	return &RedisChecker{name: name, client: client}
}

func (r *RedisChecker) Name() string           { return r.name }
func (r *RedisChecker) Timeout() time.Duration { return 3 * time.Second }

// Critical is false: the limiter fails open without redis
func (r *RedisChecker) Critical() bool { return false }

func (r *RedisChecker) Check(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryChecker reports heap usage above a threshold
type MemoryChecker struct {
	name      string
	threshold uint64
}

func NewMemoryChecker(name string, thresholdBytes uint64) ComponentChecker {
	return &MemoryChecker{name: name, threshold: thresholdBytes}
}

func (m *MemoryChecker) Name() string           { return m.name }
func (m *MemoryChecker) Timeout() time.Duration { return time.Second }
func (m *MemoryChecker) Critical() bool         { return false }

func (m *MemoryChecker) Check(ctx context.Context) error {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	if memStats.HeapAlloc > m.threshold {
		return fmt.Errorf("heap usage %d bytes exceeds threshold %d bytes", memStats.HeapAlloc, m.threshold)
	}
	return nil
}
