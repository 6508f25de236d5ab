package domain

import "github.com/shopspring/decimal"

// QuoteSource identifies the upstream feed that produced a quote.
type QuoteSource string

const (
	SourceWebsocket QuoteSource = "WEBSOCKET"
	SourcePolling   QuoteSource = "POLLING"
)

// Quote is the latest known price for a symbol. Prices are fixed-point
// decimals; floating point is never used for financial arithmetic.
type Quote struct {
	Symbol      string
	Price       decimal.Decimal
	Confidence  decimal.Decimal
	PublishTime int64 // publisher timestamp (ms)
	Source      QuoteSource
	ReceivedAt  int64 // local arrival timestamp (ms)
}

// IsFresh reports whether the quote's publish time is within maxAgeMs of nowMs.
func (q *Quote) IsFresh(nowMs, maxAgeMs int64) bool {
	return nowMs-q.PublishTime <= maxAgeMs
}
