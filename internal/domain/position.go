package domain

import "github.com/shopspring/decimal"

// PositionStatus is the ledger-side lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// Position mirrors the on-ledger position record. The keeper never mutates
// positions directly; all changes go through submitted transactions, so the
// local view can be stale between polls.
type Position struct {
	ID            uint64
	Trader        string // base58 address
	Symbol        string
	IsLong        bool
	Collateral    decimal.Decimal
	Size          decimal.Decimal
	Leverage      uint32
	EntryPrice    decimal.Decimal
	OpenTimestamp int64 // ms
	Status        PositionStatus
}

// PnL returns the position's unrealized profit or loss at currentPrice,
// in collateral units. Long: (current - entry) / entry * size.
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	delta := currentPrice.Sub(p.EntryPrice)
	if !p.IsLong {
		delta = delta.Neg()
	}
	return delta.Div(p.EntryPrice).Mul(p.Size)
}

// PnLBps returns the PnL as basis points of position size, truncated
// toward zero. −10000 means the loss equals the full position size.
func (p *Position) PnLBps(currentPrice decimal.Decimal) int64 {
	if p.Size.IsZero() {
		return 0
	}
	bps := p.PnL(currentPrice).Mul(decimal.NewFromInt(10000)).Div(p.Size)
	return bps.IntPart()
}
