package wp

import (
	"context"
	"sync"

	"wpsync/internal/flux"
)

// PluginDirectoryService resolves plugin icons from the public plugin
// directory and caches them by slug for the life of the service.
type PluginDirectoryService struct {
	flux.Emitter

	remote PluginDirectoryRemote
	logger Logger

	mu         sync.Mutex
	icons      map[string]string
	inProgress map[string]struct{}
	errs       map[string]error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPluginDirectoryService(remote PluginDirectoryRemote, logger Logger) *PluginDirectoryService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PluginDirectoryService{
		remote:     remote,
		logger:     loggerOrNop(logger),
		icons:      make(map[string]string),
		inProgress: make(map[string]struct{}),
		errs:       make(map[string]error),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// GetPluginIcon returns the cached icon URL for slug. When nothing is cached
// and download is set, a lookup is started unless one is already running for
// slug; listeners are notified once it yields an icon.
func (s *PluginDirectoryService) GetPluginIcon(slug string, download bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if icon, ok := s.icons[slug]; ok {
		return icon, true
	}
	if !download {
		return "", false
	}
	if _, ok := s.inProgress[slug]; ok {
		return "", false
	}

	s.inProgress[slug] = struct{}{}
	s.wg.Add(1)
	go s.fetchIcon(slug)
	return "", false
}

func (s *PluginDirectoryService) fetchIcon(slug string) {
	defer s.wg.Done()

	info, err := s.remote.FetchPluginInfo(s.ctx, slug)

	s.mu.Lock()
	delete(s.inProgress, slug)
	if err != nil {
		s.errs[slug] = err
		s.mu.Unlock()
		s.logger.Warn("error fetching plugin directory info", "slug", slug, "error", err)
		return
	}
	delete(s.errs, slug)
	if info.IconURL == "" {
		s.mu.Unlock()
		s.logger.Debug("plugin has no icon", "slug", slug)
		return
	}
	s.icons[slug] = info.IconURL
	s.mu.Unlock()

	s.EmitChange()
}

// LookupError returns the error of the last failed lookup for slug, cleared
// by the next one that reaches the directory.
func (s *PluginDirectoryService) LookupError(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[slug]
}

// Wait blocks until every lookup started so far has finished.
func (s *PluginDirectoryService) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding lookups and waits for them to return.
func (s *PluginDirectoryService) Close() {
	s.cancel()
	s.wg.Wait()
}
