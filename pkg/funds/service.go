package funds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Cache keys.
const (
	keyFundNames = "fund_names"
	keyFundTable = "fund_table"
	keyStocks    = "stocks"
	keyStockView = "stock_view"
	keyFund      = "fund:"
	keyHoldings  = "holdings:"
)

// Config holds Service configuration.
type Config struct {
	// CacheTTL is how long loaded data is reused (default: 10 minutes)
	CacheTTL time.Duration

	// CacheSize caps the number of cached keys (default: 1024)
	CacheSize int

	// LoadTimeout bounds each source query (default: 10 seconds)
	LoadTimeout time.Duration

	Logger tokens.Logger
}

// Service answers fund queries from a Source through a Cache.
type Service struct {
	source      Source
	cache       *Cache
	loadTimeout time.Duration
	logger      tokens.Logger
}

// NewService creates a Service.
func NewService(source Source, config Config) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("fund source is required")
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &tokens.NoopLogger{}
	}
	return &Service{
		source:      source,
		cache:       NewCache(config.CacheTTL, config.CacheSize),
		loadTimeout: config.LoadTimeout,
		logger:      config.Logger,
	}, nil
}

// Cache exposes the service cache for invalidation and stats.
func (s *Service) Cache() *Cache {
	return s.cache
}

// cached loads key through the cache and asserts the stored type.
func cached[T any](ctx context.Context, s *Service, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := s.cache.Load(ctx, key, func(ctx context.Context) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
		defer cancel()

		s.logger.Debug("loading fund data", tokens.Field{Key: "key", Value: key})
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// FundNames returns every fund name.
func (s *Service) FundNames(ctx context.Context) ([]string, error) {
	return cached(ctx, s, keyFundNames, s.source.FundNames)
}

// SearchFunds returns fund names containing query, ignoring case.
func (s *Service) SearchFunds(ctx context.Context, query string) ([]string, error) {
	names, err := s.FundNames(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := make([]string, 0)
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Fund returns a fund's details.
func (s *Service) Fund(ctx context.Context, name string) (*Fund, error) {
	return cached(ctx, s, keyFund+name, func(ctx context.Context) (*Fund, error) {
		return s.source.Fund(ctx, name)
	})
}

// FundTable returns the comparison table of all funds.
func (s *Service) FundTable(ctx context.Context) ([]FundSummary, error) {
	return cached(ctx, s, keyFundTable, s.source.FundTable)
}

// Holdings returns the stocks held by fund.
func (s *Service) Holdings(ctx context.Context, fund string) ([]Holding, error) {
	return cached(ctx, s, keyHoldings+fund, func(ctx context.Context) ([]Holding, error) {
		return s.source.Holdings(ctx, fund)
	})
}

// Sectors counts the fund's holdings per sector, largest first.
func (s *Service) Sectors(ctx context.Context, fund string) ([]Share, error) {
	holdings, err := s.Holdings(ctx, fund)
	if err != nil {
		return nil, err
	}
	return shares(holdings, func(h Holding) string { return h.Sector }), nil
}

// Countries counts the fund's holdings per country, largest first.
func (s *Service) Countries(ctx context.Context, fund string) ([]Share, error) {
	holdings, err := s.Holdings(ctx, fund)
	if err != nil {
		return nil, err
	}
	return shares(holdings, func(h Holding) string { return h.Country }), nil
}

// Stocks returns every listed stock.
func (s *Service) Stocks(ctx context.Context) ([]Stock, error) {
	return cached(ctx, s, keyStocks, s.source.Stocks)
}

// SearchStocks returns stocks whose name contains query, ignoring case.
func (s *Service) SearchStocks(ctx context.Context, query string) ([]Stock, error) {
	stocks, err := s.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := make([]Stock, 0)
	for _, stock := range stocks {
		if strings.Contains(strings.ToLower(stock.Name), needle) {
			out = append(out, stock)
		}
	}
	return out, nil
}

// StockView returns stocks with the number of funds holding them.
func (s *Service) StockView(ctx context.Context) ([]StockView, error) {
	return cached(ctx, s, keyStockView, s.source.StockView)
}

func shares(holdings []Holding, field func(Holding) string) []Share {
	counts := make(map[string]int)
	for _, h := range holdings {
		name := field(h)
		if name == "" {
			name = "Unknown"
		}
		counts[name]++
	}
	out := make([]Share, 0, len(counts))
	for name, n := range counts {
		out = append(out, Share{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
