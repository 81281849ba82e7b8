// Package models defines request and response types for the management
// REST API. All types are JSON-serializable.
package models

import "time"

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Status string `json:"status"`
}

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// ForwarderStats mirrors the fwd_rcv/fwd_snd/fwd_lost counters from the
// forwarding worker plus the pipeline's packet-error counters.
type ForwarderStats struct {
	Received     uint64  `json:"fwd_rcv"`
	Sent         uint64  `json:"fwd_snd"`
	Lost         uint64  `json:"fwd_lost"`
	PktLenErr    uint64  `json:"pkt_len_err"`
	PktDrop      uint64  `json:"pkt_dropped"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ServerStatsResponse contains server runtime statistics.
type ServerStatsResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     time.Time      `json:"start_time"`
	CPU           CPUStats       `json:"cpu"`
	Memory        MemoryStats    `json:"memory"`
	Forwarder     ForwarderStats `json:"forwarder"`
}

// CacheEntry is one row of the answer cache dump, matching the
// {domain, qtype, expires_at} management-plane shape.
type CacheEntry struct {
	Domain    string    `json:"domain"`
	QType     uint16    `json:"qtype"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheListResponse wraps a cache dump.
type CacheListResponse struct {
	Entries []CacheEntry `json:"entries"`
	Count   int          `json:"count"`
}
