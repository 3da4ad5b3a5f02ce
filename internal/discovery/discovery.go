// Package discovery keeps the tradable pair set current. It polls the
// market lists of both venues on an interval, rebuilds cross-venue
// matches, and hands the full pair set to a consumer callback. Newly
// matched pairs are additionally published on a channel for the
// dashboard feed.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/matching"
	"github.com/mselser95/crossarb/pkg/types"
)

const (
	defaultInterval = 5 * time.Minute
	defaultBuffer   = 64
)

// MakerSource lists maker venue markets. *predict.Client implements it.
type MakerSource interface {
	ListMarkets(ctx context.Context) ([]types.MakerMarket, error)
}

// HedgeSource lists hedge venue markets. *polymarket.Client implements it.
type HedgeSource interface {
	ListMarkets(ctx context.Context) ([]types.HedgeMarket, error)
}

// Config holds discovery service configuration.
type Config struct {
	Logger  *zap.Logger
	Maker   MakerSource
	Hedge   HedgeSource
	Matcher *matching.Service

	// Interval between refreshes, default 5m.
	Interval time.Duration
	// MarketLimit caps the maker markets considered per refresh, 0 = all.
	MarketLimit int
	// OnPairs receives the full pair set after every successful
	// rebuild. The scanner's SetPairs goes here.
	OnPairs func(ctx context.Context, pairs []*types.MarketPair) error
	// BufferSize of the new-pair channel, default 64.
	BufferSize int
}

// Service is the pair discovery service.
type Service struct {
	logger      *zap.Logger
	maker       MakerSource
	hedge       HedgeSource
	matcher     *matching.Service
	interval    time.Duration
	marketLimit int
	onPairs     func(ctx context.Context, pairs []*types.MarketPair) error

	mu    sync.RWMutex
	known map[string]time.Time // maker market id -> first seen
	pairs []*types.MarketPair

	newPairs chan *types.MarketPair

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the discovery service.
func New(cfg *Config) (*Service, error) {
	if cfg.Maker == nil {
		return nil, errors.New("maker source cannot be nil")
	}
	if cfg.Hedge == nil {
		return nil, errors.New("hedge source cannot be nil")
	}
	if cfg.Matcher == nil {
		return nil, errors.New("matcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:      cfg.Logger.Named("discovery"),
		maker:       cfg.Maker,
		hedge:       cfg.Hedge,
		matcher:     cfg.Matcher,
		interval:    interval,
		marketLimit: cfg.MarketLimit,
		onPairs:     cfg.OnPairs,
		known:       make(map[string]time.Time),
		newPairs:    make(chan *types.MarketPair, buffer),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs one refresh synchronously so consumers have pairs before
// trading begins, then launches the poll loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("initial-refresh-failed", zap.Error(err))
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("discovery-started",
		zap.Duration("interval", s.interval),
		zap.Int("market-limit", s.marketLimit))
	return nil
}

// Close stops the poll loop.
func (s *Service) Close() error {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("discovery-closed")
	return nil
}

// Refresh fetches both market lists, rebuilds the matches, and pushes
// the result to the consumer. Callable standalone for one-shot use.
func (s *Service) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		refreshDuration.Observe(time.Since(start).Seconds())
	}()

	makers, err := s.maker.ListMarkets(ctx)
	if err != nil {
		refreshErrorsTotal.Inc()
		return fmt.Errorf("list maker markets: %w", err)
	}
	hedges, err := s.hedge.ListMarkets(ctx)
	if err != nil {
		refreshErrorsTotal.Inc()
		return fmt.Errorf("list hedge markets: %w", err)
	}

	if s.marketLimit > 0 && len(makers) > s.marketLimit {
		makers = makers[:s.marketLimit]
	}
	marketsFetched.WithLabelValues("predict").Set(float64(len(makers)))
	marketsFetched.WithLabelValues("polymarket").Set(float64(len(hedges)))

	pairs := s.matcher.Rebuild(makers, hedges)
	fresh := s.fold(pairs)
	pairsMatched.Set(float64(len(pairs)))

	for _, p := range fresh {
		select {
		case s.newPairs <- p:
			newPairsTotal.Inc()
			s.logger.Info("pair-discovered",
				zap.String("market-id", p.MakerMarketID),
				zap.String("title", p.MakerTitle),
				zap.String("method", string(p.Method)))
		default:
			s.logger.Warn("new-pairs-channel-full",
				zap.String("market-id", p.MakerMarketID))
		}
	}

	if s.onPairs != nil {
		if err := s.onPairs(ctx, pairs); err != nil {
			refreshErrorsTotal.Inc()
			return fmt.Errorf("apply pairs: %w", err)
		}
	}

	refreshesTotal.Inc()
	s.logger.Debug("refresh-complete",
		zap.Int("maker-markets", len(makers)),
		zap.Int("hedge-markets", len(hedges)),
		zap.Int("pairs", len(pairs)),
		zap.Int("new-pairs", len(fresh)),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// Pairs returns the pair set from the last successful refresh.
func (s *Service) Pairs() []*types.MarketPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MarketPair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// NewPairs returns the channel carrying pairs not seen before. The
// channel is never closed; consumers select against their own context.
func (s *Service) NewPairs() <-chan *types.MarketPair {
	return s.newPairs
}

// fold stores the pair set and returns the pairs whose maker market was
// not known before.
func (s *Service) fold(pairs []*types.MarketPair) []*types.MarketPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []*types.MarketPair
	now := time.Now()
	for _, p := range pairs {
		if _, seen := s.known[p.MakerMarketID]; !seen {
			s.known[p.MakerMarketID] = now
			fresh = append(fresh, p)
		}
	}
	s.pairs = pairs
	return fresh
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(s.ctx); err != nil {
				s.logger.Error("refresh-failed", zap.Error(err))
			}
		}
	}
}
