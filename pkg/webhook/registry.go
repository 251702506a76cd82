package webhook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// loadRegistry replaces the in-memory route table with the persisted one.
// Routes are fully restorable from disk; unlike secrets in transit they
// carry everything a trigger needs.
func (s *Server) loadRegistry() {
	data, err := os.ReadFile(s.options.RegistryPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Msg("No existing route registry, starting empty")
		} else {
			s.logger.Error().
				Err(err).
				Msg("Failed to load route registry, starting empty")
		}
		return
	}

	var registry RouteRegistry
	if err := json.Unmarshal(data, &registry); err != nil {
		s.logger.Error().
			Err(err).
			Msg("Failed to parse route registry, keeping current routes")
		return
	}

	routes := make(map[string]*RouteConfig, len(registry.Routes))
	for _, entry := range registry.Routes {
		route := &RouteConfig{
			Path:               entry.Path,
			Method:             entry.Method,
			EntryPoint:         entry.EntryPoint,
			Secret:             entry.Secret,
			SignatureHeader:    entry.SignatureHeader,
			SignatureAlgorithm: entry.SignatureAlgorithm,
			PayloadSchema:      entry.PayloadSchema,
			Description:        entry.Description,
		}
		if len(route.PayloadSchema) > 0 {
			if err := checkSchema(route.PayloadSchema); err != nil {
				s.logger.Error().
					Err(err).
					Str("path", route.Path).
					Msg("Skipping route with invalid payload schema")
				continue
			}
		}
		routes[entry.Method+":"+entry.Path] = route
		s.logger.Info().
			Str("path", entry.Path).
			Str("method", entry.Method).
			Str("entry_point", entry.EntryPoint).
			Msg("Loaded trigger route from registry")
	}

	s.routesMu.Lock()
	s.routes = routes
	s.routesMu.Unlock()
}

// saveRegistry persists the route table with an atomic write.
func (s *Server) saveRegistry() {
	s.routesMu.RLock()
	entries := make([]RouteRegistryEntry, 0, len(s.routes))
	for _, route := range s.routes {
		entries = append(entries, RouteRegistryEntry{
			Path:               route.Path,
			Method:             route.Method,
			EntryPoint:         route.EntryPoint,
			Secret:             route.Secret,
			SignatureHeader:    route.SignatureHeader,
			SignatureAlgorithm: route.SignatureAlgorithm,
			PayloadSchema:      route.PayloadSchema,
			Description:        route.Description,
		})
	}
	s.routesMu.RUnlock()

	registry := RouteRegistry{
		Version:     1,
		Routes:      entries,
		LastUpdated: time.Now().UnixMilli(),
	}

	dir := filepath.Dir(s.options.RegistryPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Error().
			Err(err).
			Str("dir", dir).
			Msg("Failed to create registry directory")
		return
	}

	tempFile := s.options.RegistryPath + ".tmp"
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("Failed to marshal route registry")
		return
	}

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		s.logger.Error().
			Err(err).
			Str("file", tempFile).
			Msg("Failed to write route registry temp file")
		return
	}

	if err := os.Rename(tempFile, s.options.RegistryPath); err != nil {
		s.logger.Error().
			Err(err).
			Str("file", s.options.RegistryPath).
			Msg("Failed to rename route registry file")
		return
	}

	s.logger.Debug().Msg("Saved route registry")
}

// registryWatcher reloads the route table when the registry file changes
// on disk, so routes can be edited without restarting the daemon.
type registryWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newRegistryWatcher(path string, reload func(), logger zerolog.Logger) (*registryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: atomic rename-into-place does not fire write
	// events on the file itself.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &registryWatcher{
		watcher: watcher,
		done:    make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Info().
					Str("file", path).
					Str("op", event.Op.String()).
					Msg("Route registry changed, reloading")
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Route registry watcher error")
			}
		}
	}()

	return w, nil
}

func (w *registryWatcher) Close() {
	close(w.done)
	w.watcher.Close()
}
