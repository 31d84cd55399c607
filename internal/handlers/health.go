package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
)

const version = "1.0.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// MemoryStats is the process and host memory picture in bytes.
type MemoryStats struct {
	RSS         uint64  `json:"rss"`
	VMS         uint64  `json:"vms"`
	HeapAlloc   uint64  `json:"heap_alloc"`
	HeapSys     uint64  `json:"heap_sys"`
	SystemTotal uint64  `json:"system_total,omitempty"`
	SystemUsed  float64 `json:"system_used_percent,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "ok" or "degraded"
	Version     string           `json:"version"`
	Connections int              `json:"connections"` // live API keys
	Messages    int              `json:"messages"`    // stored envelopes, including not yet reclaimed ones
	Uptime      float64          `json:"uptime"`      // seconds
	Memory      MemoryStats      `json:"memory"`
	Storage     string           `json:"storage"`
	Subscribers int64            `json:"subscribers"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	start := time.Now()
	if err := h.kv.Ping(ctx); err != nil {
		checks["storage"] = Check{Status: "fail", Message: "connection failed"}
		healthy = false
	} else {
		latency := time.Since(start)
		metrics.StorageLatency.WithLabelValues(h.kv.Name()).Observe(latency.Seconds())
		checks["storage"] = Check{Status: "pass", Latency: latency.String()}
	}

	resp := HealthResponse{
		Status:    "ok",
		Version:   version,
		Uptime:    time.Since(h.startedAt).Seconds(),
		Memory:    memoryStats(),
		Storage:   h.storage(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.subscribers != nil {
		resp.Subscribers = h.subscribers.Clients()
	}

	if healthy {
		if n, err := h.keys.Count(ctx); err == nil {
			resp.Connections = n
		} else {
			healthy = false
		}
		if n, err := h.messages.Count(ctx); err == nil {
			resp.Messages = n
		} else {
			healthy = false
		}
	}

	statusCode := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, resp)
}

func memoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := MemoryStats{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			stats.RSS = info.RSS
			stats.VMS = info.VMS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.SystemTotal = vm.Total
		stats.SystemUsed = vm.UsedPercent
	}
	return stats
}

// RootResponse represents the API info response.
type RootResponse struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Storage string   `json:"storage"`
	Routes  []string `json:"routes"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "OpenClaw Hub",
		Version: version,
		Storage: h.storage(),
		Routes: []string{
			"POST /register",
			"POST /send",
			"GET /inbox/{ai_id}",
			"DELETE /messages/{message_id}",
			"GET /agents",
			"GET /health",
		},
	})
}
