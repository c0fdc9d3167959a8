package counting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
)

// TxRepository is the write surface used while replacing a factory's count.
type TxRepository interface {
	DeleteForFactory(ctx context.Context, factory string) (int64, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	CountForFactory(ctx context.Context, factory string) (int, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter Filter) ([]Record, int, error)
	Get(ctx context.Context, id int64) (Record, error)
	SetActual(ctx context.Context, id int64, actual int) (Record, error)
	Stats(ctx context.Context, factory string) (StatusCounts, error)
	FactoryCounts(ctx context.Context) ([]FactoryCount, error)
	ForMaterial(ctx context.Context, factory, code string) ([]Record, error)
	ForFactory(ctx context.Context, factory string) ([]Record, error)
}

// StatsCache stores computed statistics between writes.
type StatsCache interface {
	Get(ctx context.Context, versionKey, name string, dst any) (bool, error)
	Set(ctx context.Context, versionKey, name string, value any) error
	Bump(ctx context.Context, versionKeys ...string) error
}

// Service exposes count listings, statistics and actual-quantity updates.
type Service struct {
	repo   RepositoryPort
	cache  StatsCache
	logger *slog.Logger
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache StatsCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns one page of count rows visible to p.
func (s *Service) List(ctx context.Context, p access.Principal, filter Filter) (shared.Page[Record], error) {
	if err := filter.Normalize(); err != nil {
		return shared.Page[Record]{}, err
	}
	if filter.Factory != "" {
		if err := p.Require(filter.Factory); err != nil {
			return shared.Page[Record]{}, err
		}
	}
	filter.Scope = p.Scope()
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.Page[Record]{}, err
	}
	return shared.NewPage(records, filter.Page, filter.PageSize, total), nil
}

// Stats returns the status breakdown of factory, or of every factory visible
// to p when factory is empty. Per-factory counts are included only for an
// unrestricted view.
func (s *Service) Stats(ctx context.Context, p access.Principal, factory string) (Stats, error) {
	if factory != "" {
		if err := p.Require(factory); err != nil {
			return Stats{}, err
		}
	} else {
		factory = p.Scope()
	}
	if factory == access.NoFactory {
		return NewStats(StatusCounts{}), nil
	}

	versionKey := shared.CountStatsVersionKey(factory)
	var cached Stats
	if s.cache != nil {
		ok, err := s.cache.Get(ctx, versionKey, "stats", &cached)
		if err != nil {
			s.logger.Warn("count stats cache read failed", slog.String("factory", factory), slog.Any("error", err))
		} else if ok {
			return cached, nil
		}
	}

	counts, err := s.repo.Stats(ctx, factory)
	if err != nil {
		return Stats{}, err
	}
	stats := NewStats(counts)
	if factory == "" {
		stats.Factories, err = s.repo.FactoryCounts(ctx)
		if err != nil {
			return Stats{}, err
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, versionKey, "stats", stats); err != nil {
			s.logger.Warn("count stats cache write failed", slog.String("factory", factory), slog.Any("error", err))
		}
	}
	return stats, nil
}

// SetActual records the counted quantity of one row. Stock is not touched.
func (s *Service) SetActual(ctx context.Context, p access.Principal, id int64, actual int) (Record, error) {
	if actual < 0 {
		return Record{}, ErrNegativeActual
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if err := p.Require(rec.FactoryCode); err != nil {
		return Record{}, err
	}
	rec, err = s.repo.SetActual(ctx, id, actual)
	if err != nil {
		return Record{}, err
	}
	s.Invalidate(ctx, rec.FactoryCode)
	return rec, nil
}

// ForMaterial lists count rows of one material.
func (s *Service) ForMaterial(ctx context.Context, p access.Principal, factory, code string) ([]Record, error) {
	if err := p.Require(factory); err != nil {
		return nil, err
	}
	return s.repo.ForMaterial(ctx, factory, code)
}

// ForFactory lists every count row of factory.
func (s *Service) ForFactory(ctx context.Context, p access.Principal, factory string) ([]Record, error) {
	if factory == "" {
		return nil, fmt.Errorf("%w: factory is required", httpx.ErrValidation)
	}
	if err := p.Require(factory); err != nil {
		return nil, err
	}
	return s.repo.ForFactory(ctx, factory)
}

// Invalidate drops cached statistics of factory and of the unscoped view.
func (s *Service) Invalidate(ctx context.Context, factory string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, shared.CountStatsVersionKey(factory), shared.CountStatsVersionKey("")); err != nil {
		s.logger.Warn("count stats cache bump failed", slog.String("factory", factory), slog.Any("error", err))
	}
}
