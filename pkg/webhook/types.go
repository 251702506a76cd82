package webhook

import (
	"encoding/json"
	"time"
)

// RouteConfig binds an HTTP route to a graph entry point.
type RouteConfig struct {
	Path               string          // URL path (e.g., "/hooks/new-lead")
	Method             string          // HTTP method (POST, GET, PUT, DELETE)
	EntryPoint         string          // graph entry point the route triggers
	Secret             string          // signature verification secret
	SignatureHeader    string          // header carrying the signature (e.g., "X-Hub-Signature-256")
	SignatureAlgorithm string          // "sha256" or "sha1"
	PayloadSchema      json.RawMessage // optional JSON Schema the body must satisfy
	Description        string
}

// RouteRegistryEntry is a persisted route configuration.
type RouteRegistryEntry struct {
	Path               string          `json:"path"`
	Method             string          `json:"method"`
	EntryPoint         string          `json:"entry_point"`
	Secret             string          `json:"secret,omitempty"`
	SignatureHeader    string          `json:"signatureHeader,omitempty"`
	SignatureAlgorithm string          `json:"signatureAlgorithm,omitempty"`
	PayloadSchema      json.RawMessage `json:"payloadSchema,omitempty"`
	Description        string          `json:"description,omitempty"`
}

// RouteRegistry is the persisted registry structure.
type RouteRegistry struct {
	Version     int                  `json:"version"`
	Routes      []RouteRegistryEntry `json:"routes"`
	LastUpdated int64                `json:"lastUpdated"`
}

// RouteMetrics tracks per-route performance.
type RouteMetrics struct {
	Path                string  `json:"path"`
	Method              string  `json:"method"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	LastRequestAt       int64   `json:"lastRequestAt,omitempty"`
}

// RateLimitState tracks rate limiting per IP.
type RateLimitState struct {
	Requests    []int64 // timestamps of requests
	WindowStart int64   // start of current window
}

// ServerOptions configures the trigger server.
type ServerOptions struct {
	Port               int           // server port (default: 3001)
	Host               string        // server host (default: "0.0.0.0")
	RegistryPath       string        // path to the route registry file
	RateLimitPerMinute int           // requests per minute per IP (default: 100)
	TriggerTimeout     time.Duration // per-request trigger timeout (default: 30s)
	WatchRegistry      bool          // reload the registry on file change
}
