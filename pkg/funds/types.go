// Package funds serves the read-only fund and holdings data that answers are
// grounded on.
package funds

import "errors"

// ErrFundNotFound is returned when no fund has the requested name.
var ErrFundNotFound = errors.New("fund not found")

// Fund is a fund's detail record.
type Fund struct {
	Name       string `json:"name" db:"fond"`
	Company    string `json:"company" db:"bolag"`
	ISIN       string `json:"isin" db:"isin"`
	Assets     string `json:"assets" db:"fondformogenhet"`
	OneYear    string `json:"one_year" db:"oneyear"`
	Liquid     string `json:"liquid" db:"likvida"`
	Other      string `json:"other" db:"ovriga"`
	Risk       string `json:"risk" db:"risk"`
	StdDev     string `json:"std_dev" db:"stdavvikelse"`
	AssetClass string `json:"asset_class" db:"tillgangsslag"`
}

// FundSummary is one row of the fund comparison table.
type FundSummary struct {
	Name    string `json:"name" db:"fond"`
	OneYear string `json:"one_year" db:"oneyear"`
	Assets  string `json:"assets" db:"fondformogenhet"`
	Liquid  string `json:"liquid" db:"likvida"`
	Other   string `json:"other" db:"ovriga"`
	Risk    string `json:"risk" db:"risk"`
	StdDev  string `json:"std_dev" db:"stdavvikelse"`
}

// Holding is a stock held by a fund.
type Holding struct {
	Fund    string `json:"fund" db:"fond"`
	Stock   string `json:"stock" db:"aktie"`
	ISIN    string `json:"isin" db:"isin"`
	Sector  string `json:"sector" db:"branch"`
	Country string `json:"country" db:"land"`
}

// Stock is a listed stock.
type Stock struct {
	Name   string `json:"name" db:"aktie"`
	ISIN   string `json:"isin" db:"isin"`
	Ticker string `json:"ticker" db:"ticker"`
}

// StockView is a stock with the number of funds holding it.
type StockView struct {
	ISIN      string `json:"isin" db:"isin"`
	Name      string `json:"name" db:"aktie"`
	FundCount int    `json:"fund_count" db:"fondcount"`
}

// Share counts holdings per sector or country.
type Share struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
