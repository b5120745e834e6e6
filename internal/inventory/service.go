package inventory

import (
	"context"
	"time"

	"github.com/rcourtman/puppetdb-inventory/internal/cache"
	"github.com/rcourtman/puppetdb-inventory/internal/logging"
	"github.com/rcourtman/puppetdb-inventory/internal/metrics"
)

// Service answers --list and --host, applying the cache policy to --list.
type Service struct {
	builder *Builder
	cache   *cache.File
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewService(builder *Builder, cacheFile *cache.File, recorder *metrics.Recorder) *Service {
	return &Service{
		builder: builder,
		cache:   cacheFile,
		metrics: recorder,
		now:     time.Now,
	}
}

// List returns the full inventory document. The cache is rebuilt when it is
// stale or refresh is set; the document is then served from the cache file.
func (s *Service) List(ctx context.Context, refresh bool) ([]byte, error) {
	logger := logging.FromContext(ctx)

	if s.cache == nil || !s.cache.Enabled() {
		s.metrics.RecordCacheResult(metrics.CacheDisabled)
		inv, err := s.builder.BuildList(ctx)
		if err != nil {
			return nil, err
		}
		return inv.MarshalIndent()
	}

	result := metrics.CacheHit
	switch {
	case refresh:
		result = metrics.CacheRefresh
	case s.cache.IsStale(s.now()):
		result = metrics.CacheStale
	}

	if result == metrics.CacheHit {
		data, err := s.readCache()
		if err == nil {
			s.metrics.RecordCacheResult(result)
			logger.Debug().Str("path", s.cache.Path()).Msg("Serving inventory from cache")
			return data, nil
		}
		logger.Warn().Err(err).Str("path", s.cache.Path()).Msg("Cached inventory unreadable, rebuilding")
		result = metrics.CacheStale
	}

	s.metrics.RecordCacheResult(result)
	logger.Info().
		Str("path", s.cache.Path()).
		Str("reason", string(result)).
		Msg("Rebuilding inventory cache")

	inv, err := s.builder.BuildList(ctx)
	if err != nil {
		return nil, err
	}
	data, err := inv.MarshalIndent()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Write(data); err != nil {
		return nil, err
	}
	return s.readCache()
}

func (s *Service) readCache() ([]byte, error) {
	data, err := s.cache.Read()
	if err != nil {
		return nil, err
	}
	return Reindent(data)
}

// Host returns the --host document for one host. It is never cached.
func (s *Service) Host(ctx context.Context, host string) ([]byte, error) {
	vars, err := s.builder.HostDetail(ctx, host)
	if err != nil {
		return nil, err
	}
	return HostDocument(host, vars)
}

// CacheStatus reports the state of the cache file.
func (s *Service) CacheStatus() cache.Status {
	if s.cache == nil {
		return cache.Status{Stale: true}
	}
	return s.cache.Stat(s.now())
}

// ClearCache removes the cache file.
func (s *Service) ClearCache() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear()
}
