package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// CheckFunc probes one dependency; nil means healthy.
type CheckFunc func(ctx context.Context) error

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

type HealthHandler struct {
	startTime    time.Time
	build        BuildInfo
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

type DependencyCheck struct {
	Name         string        `json:"name"`
	Status       string        `json:"status"`
	LastChecked  time.Time     `json:"lastChecked"`
	ResponseTime time.Duration `json:"responseTime"`
	Details      string        `json:"details,omitempty"`
}

type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Uptime       string            `json:"uptime"`
	System       SystemHealth      `json:"system"`
	Dependencies []DependencyCheck `json:"dependencies"`
}

type SystemHealth struct {
	CPUCount   int        `json:"cpuCount"`
	Goroutines int        `json:"goroutines"`
	Memory     MemoryInfo `json:"memory"`
}

type MemoryInfo struct {
	Allocated  uint64 `json:"allocated"`
	TotalAlloc uint64 `json:"totalAlloc"`
	System     uint64 `json:"system"`
	NumGC      uint32 `json:"numGC"`
}

func NewHealthHandler(build BuildInfo) *HealthHandler {
	if build.GoVersion == "" {
		build.GoVersion = runtime.Version()
	}
	if build.Platform == "" {
		build.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	return &HealthHandler{
		startTime:    time.Now(),
		build:        build,
		checkTimeout: 5 * time.Second,
		checks:       make(map[string]CheckFunc),
	}
}

// AddCheck registers a readiness probe under name.
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// GetHealth reports "healthy" or "degraded"; a failing dependency does not
// make the process unhealthy.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	deps := h.runChecks(r.Context())

	status := "healthy"
	for _, d := range deps {
		if d.Status != "healthy" {
			status = "degraded"
			break
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, &HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   h.build.Version,
		Uptime:    time.Since(h.startTime).String(),
		System: SystemHealth{
			CPUCount:   runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
			Memory: MemoryInfo{
				Allocated:  memStats.Alloc,
				TotalAlloc: memStats.TotalAlloc,
				System:     memStats.Sys,
				NumGC:      memStats.NumGC,
			},
		},
		Dependencies: deps,
	})
}

func (h *HealthHandler) GetLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// GetReadiness answers 503 while any dependency fails.
func (h *HealthHandler) GetReadiness(w http.ResponseWriter, r *http.Request) {
	deps := h.runChecks(r.Context())

	ready := true
	for _, d := range deps {
		if d.Status != "healthy" {
			ready = false
			break
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"checks":    deps,
	})
}

func (h *HealthHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.build)
}

func (h *HealthHandler) runChecks(ctx context.Context) []DependencyCheck {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	sort.Strings(names)

	results := make([]DependencyCheck, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()

			start := time.Now()
			err := checks[name](ctx)
			result := DependencyCheck{
				Name:         name,
				Status:       "healthy",
				LastChecked:  start,
				ResponseTime: time.Since(start),
			}
			if err != nil {
				result.Status = "unhealthy"
				result.Details = err.Error()
			}
			results[i] = result
		}(i, name)
	}
	wg.Wait()

	return results
}
