package models

import "fmt"

// Pair identifies one series to crawl.
type Pair struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func NewPair(symbol, interval string) Pair {
	return Pair{Symbol: symbol, Interval: interval}
}

func (p Pair) String() string {
	return fmt.Sprintf("(%s,%s)", p.Symbol, p.Interval)
}

// RecrawlCommand asks the harvester to fetch a pair again, reviving it if it was marked as errored.
type RecrawlCommand struct {
	Symbol   string `json:"symbol" validate:"required"`
	Interval string `json:"interval" validate:"required"`
}

func (c RecrawlCommand) Pair() Pair { return NewPair(c.Symbol, c.Interval) }
