package funds

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source reads fund data.
type Source interface {
	FundNames(ctx context.Context) ([]string, error)
	Fund(ctx context.Context, name string) (*Fund, error)
	FundTable(ctx context.Context) ([]FundSummary, error)
	Holdings(ctx context.Context, fund string) ([]Holding, error)
	Stocks(ctx context.Context) ([]Stock, error)
	StockView(ctx context.Context) ([]StockView, error)
}

// PostgresSource reads the fonder, relation, aktier and aktierlongest tables.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a Source over an existing pool.
func NewPostgresSource(pool *pgxpool.Pool) (*PostgresSource, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	return &PostgresSource{pool: pool}, nil
}

const (
	queryFundNames = `SELECT fond FROM fonder ORDER BY fond`

	queryFund = `
		SELECT fond,
		       COALESCE(bolag::text, '') AS bolag,
		       COALESCE(isin::text, '') AS isin,
		       COALESCE(fondformogenhet::text, '') AS fondformogenhet,
		       COALESCE(oneyear::text, '') AS oneyear,
		       COALESCE(likvida::text, '') AS likvida,
		       COALESCE(ovriga::text, '') AS ovriga,
		       COALESCE(risk::text, '') AS risk,
		       COALESCE(stdavvikelse::text, '') AS stdavvikelse,
		       COALESCE(tillgangsslag::text, '') AS tillgangsslag
		FROM fonder WHERE fond = $1 LIMIT 1`

	queryFundTable = `
		SELECT fond,
		       COALESCE(oneyear::text, '') AS oneyear,
		       COALESCE(fondformogenhet::text, '') AS fondformogenhet,
		       COALESCE(likvida::text, '') AS likvida,
		       COALESCE(ovriga::text, '') AS ovriga,
		       COALESCE(risk::text, '') AS risk,
		       COALESCE(stdavvikelse::text, '') AS stdavvikelse
		FROM fonder ORDER BY fond`

	queryHoldings = `
		SELECT fond,
		       COALESCE(aktie, '') AS aktie,
		       COALESCE(isin, '') AS isin,
		       COALESCE(branch, '') AS branch,
		       COALESCE(land, '') AS land
		FROM relation WHERE fond = $1`

	queryStocks = `
		SELECT COALESCE(aktie, '') AS aktie, isin, COALESCE(ticker, '') AS ticker
		FROM aktier ORDER BY aktie`

	queryStockView = `
		SELECT isin, COALESCE(aktie, '') AS aktie, COALESCE(fondcount, 0)::int AS fondcount
		FROM aktierlongest ORDER BY fondcount DESC, aktie`
)

func (s *PostgresSource) FundNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, queryFundNames)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresSource) Fund(ctx context.Context, name string) (*Fund, error) {
	rows, err := s.pool.Query(ctx, queryFund, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund: %w", err)
	}
	fund, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Fund])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fund: %w", err)
	}
	return fund, nil
}

func (s *PostgresSource) FundTable(ctx context.Context) ([]FundSummary, error) {
	return collect[FundSummary](ctx, s.pool, "fund table", queryFundTable)
}

func (s *PostgresSource) Holdings(ctx context.Context, fund string) ([]Holding, error) {
	return collect[Holding](ctx, s.pool, "holdings", queryHoldings, fund)
}

func (s *PostgresSource) Stocks(ctx context.Context) ([]Stock, error) {
	return collect[Stock](ctx, s.pool, "stocks", queryStocks)
}

func (s *PostgresSource) StockView(ctx context.Context) ([]StockView, error) {
	return collect[StockView](ctx, s.pool, "stock view", queryStockView)
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, what, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", what, err)
	}
	return out, nil
}
