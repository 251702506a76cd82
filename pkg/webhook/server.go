// Package webhook exposes graph entry points over HTTP. Each registered
// route maps a method and path to an entry point; incoming requests are
// rate limited, signature checked, schema validated, and handed to the
// agent runtime as triggers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/pkg/runtime"
)

// Triggerer fires graph entry points. *runtime.Runtime implements it.
type Triggerer interface {
	Trigger(ctx context.Context, entryPointID string, payload map[string]any) (string, error)
}

// Server is the trigger HTTP server.
type Server struct {
	options        ServerOptions
	server         *http.Server
	routes         map[string]*RouteConfig // key: method:path
	rateLimiter    *RateLimiter
	metricsTracker *MetricsTracker
	triggerer      Triggerer
	watcher        *registryWatcher
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	routesMu       sync.RWMutex
}

// NewServer creates a trigger server over the given runtime.
func NewServer(options ServerOptions, triggerer Triggerer, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 3001
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 100
	}
	if options.TriggerTimeout == 0 {
		options.TriggerTimeout = 30 * time.Second
	}
	if options.RegistryPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		options.RegistryPath = filepath.Join(homeDir, ".hive", "triggers", "routes.json")
	}

	if triggerer == nil {
		return nil, fmt.Errorf("triggerer is required")
	}

	s := &Server{
		options:        options,
		routes:         make(map[string]*RouteConfig),
		rateLimiter:    NewRateLimiter(options.RateLimitPerMinute),
		metricsTracker: NewMetricsTracker(),
		triggerer:      triggerer,
		logger:         logger,
		startTime:      time.Now(),
	}

	s.loadRegistry()

	if options.WatchRegistry {
		watcher, err := newRegistryWatcher(options.RegistryPath, s.loadRegistry, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to watch route registry: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Start starts the trigger server. It blocks until the server stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/", s.handleTrigger)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: mux,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting trigger server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start trigger server: %w", err)
	}

	return nil
}

// Stop gracefully stops the trigger server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down trigger server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()
	if s.watcher != nil {
		s.watcher.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown trigger server: %w", err)
		}
	}

	s.logger.Info().Msg("Trigger server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.routesMu.RLock()
	routeCount := len(s.routes)
	s.routesMu.RUnlock()

	response := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).Seconds(),
		"routeCount": routeCount,
		"timestamp":  time.Now().UnixMilli(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleTrigger maps an incoming request to its route's entry point and
// fires it.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ip := s.getClientIP(r)

	if !s.rateLimiter.CheckLimit(ip) {
		retryAfter := s.rateLimiter.GetRetryAfter(ip)
		s.logger.Warn().
			Str("ip", ip).
			Str("path", r.URL.Path).
			Int("retryAfter", retryAfter).
			Msg("Rate limit exceeded")

		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to read request body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	route := s.getRoute(r.URL.Path, r.Method)
	if route == nil {
		s.logger.Debug().
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg("No route for request")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if route.Secret != "" {
		signatureHeader := route.SignatureHeader
		if signatureHeader == "" {
			signatureHeader = "X-Webhook-Signature"
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			s.logger.Warn().
				Str("path", route.Path).
				Str("ip", ip).
				Msg("Missing trigger signature")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		algorithm := route.SignatureAlgorithm
		if algorithm == "" {
			algorithm = "sha256"
		}

		if !verifySignature(string(rawBody), signature, route.Secret, algorithm) {
			s.logger.Warn().
				Str("path", route.Path).
				Str("ip", ip).
				Msg("Invalid trigger signature")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	payload, err := s.parsePayload(r, rawBody)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("path", route.Path).
			Msg("Failed to parse payload")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if len(route.PayloadSchema) > 0 {
		if verr := validatePayload(route.PayloadSchema, payload); verr != nil {
			s.logger.Warn().
				Err(verr).
				Str("path", route.Path).
				Msg("Payload failed schema validation")
			s.sendJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": verr.Error(),
			})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.options.TriggerTimeout)
	defer cancel()

	sessionID, err := s.triggerer.Trigger(ctx, route.EntryPoint, payload)

	duration := time.Since(startTime).Milliseconds()
	s.metricsTracker.Track(route.Path, route.Method, err == nil, float64(duration))

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("entry_point", route.EntryPoint).
			Str("ip", ip).
			Int64("duration", duration).
			Msg("Trigger rejected")
		s.sendTriggerError(w, err)
		return
	}

	s.logger.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("entry_point", route.EntryPoint).
		Str("session_id", sessionID).
		Str("ip", ip).
		Int64("duration", duration).
		Msg("Trigger accepted")

	s.sendJSON(w, http.StatusAccepted, map[string]any{
		"session_id":  sessionID,
		"entry_point": route.EntryPoint,
	})
}

// sendTriggerError maps runtime errors onto HTTP statuses. Timing
// conflicts (no primary session yet, or one already running) are 409s the
// caller can retry; everything else is a server error.
func (s *Server) sendTriggerError(w http.ResponseWriter, err error) {
	var noPrimary *runtime.NoPrimarySessionError
	var active *runtime.PrimaryActiveError

	switch {
	case errors.As(err, &noPrimary):
		s.sendJSON(w, http.StatusConflict, map[string]any{
			"error":       "no primary session to attach to",
			"entry_point": noPrimary.EntryPoint,
		})
	case errors.As(err, &active):
		s.sendJSON(w, http.StatusConflict, map[string]any{
			"error":      "primary session already active",
			"session_id": active.SessionID,
		})
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// parsePayload turns the request into the trigger payload map. JSON object
// bodies become the payload directly; anything else is wrapped under a
// "body" key so entry points always see a map.
func (s *Server) parsePayload(r *http.Request, rawBody []byte) (map[string]any, error) {
	payload := make(map[string]any)

	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "application/json"):
		if len(rawBody) > 0 {
			var body any
			if err := json.Unmarshal(rawBody, &body); err != nil {
				return nil, fmt.Errorf("failed to parse JSON body: %w", err)
			}
			if object, ok := body.(map[string]any); ok {
				payload = object
			} else {
				payload["body"] = body
			}
		}
	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form data: %w", err)
		}
		for key, values := range r.Form {
			if len(values) > 0 {
				payload[key] = values[0]
			}
		}
	default:
		if len(rawBody) > 0 {
			payload["body"] = string(rawBody)
		}
	}

	for key, values := range r.URL.Query() {
		if _, taken := payload[key]; !taken && len(values) > 0 {
			payload[key] = values[0]
		}
	}

	return payload, nil
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// getClientIP extracts the client IP from the request.
func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (s *Server) getRoute(path string, method string) *RouteConfig {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()

	key := method + ":" + path
	return s.routes[key]
}

// RegisterRoute registers a new trigger route.
func (s *Server) RegisterRoute(config RouteConfig) error {
	if !strings.HasPrefix(config.Path, "/") {
		return fmt.Errorf("route path must start with /")
	}

	validMethods := map[string]bool{
		http.MethodPost:   true,
		http.MethodGet:    true,
		http.MethodPut:    true,
		http.MethodDelete: true,
	}
	if !validMethods[config.Method] {
		return fmt.Errorf("invalid HTTP method: %s", config.Method)
	}

	if config.EntryPoint == "" {
		return fmt.Errorf("route entry point is required")
	}
	if len(config.PayloadSchema) > 0 {
		if err := checkSchema(config.PayloadSchema); err != nil {
			return fmt.Errorf("invalid payload schema: %w", err)
		}
	}

	s.routesMu.Lock()
	key := config.Method + ":" + config.Path
	s.routes[key] = &config
	s.routesMu.Unlock()

	s.logger.Info().
		Str("path", config.Path).
		Str("method", config.Method).
		Str("entry_point", config.EntryPoint).
		Msg("Trigger route registered")

	go s.saveRegistry()

	return nil
}

// UnregisterRoute removes a trigger route.
func (s *Server) UnregisterRoute(path string, method string) bool {
	s.routesMu.Lock()
	key := method + ":" + path
	_, exists := s.routes[key]
	if exists {
		delete(s.routes, key)
	}
	s.routesMu.Unlock()

	if exists {
		s.logger.Info().
			Str("path", path).
			Str("method", method).
			Msg("Trigger route unregistered")

		go s.saveRegistry()
	}

	return exists
}

// ListRoutes returns all registered routes with secrets redacted.
func (s *Server) ListRoutes() []RouteRegistryEntry {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()

	entries := make([]RouteRegistryEntry, 0, len(s.routes))
	for _, route := range s.routes {
		entry := RouteRegistryEntry{
			Path:               route.Path,
			Method:             route.Method,
			EntryPoint:         route.EntryPoint,
			SignatureHeader:    route.SignatureHeader,
			SignatureAlgorithm: route.SignatureAlgorithm,
			PayloadSchema:      route.PayloadSchema,
			Description:        route.Description,
		}
		if route.Secret != "" {
			entry.Secret = "[REDACTED]"
		}
		entries = append(entries, entry)
	}

	return entries
}

// GetMetrics returns all route metrics.
func (s *Server) GetMetrics() []RouteMetrics {
	return s.metricsTracker.GetMetrics()
}

// GetMetricsForRoute returns metrics for a specific route.
func (s *Server) GetMetricsForRoute(path string, method string) *RouteMetrics {
	return s.metricsTracker.GetMetricsForRoute(path, method)
}
