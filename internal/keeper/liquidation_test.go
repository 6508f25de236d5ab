package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
	"github.com/Tethra-Dex/tethra-be/internal/ledger/ledgertest"
	"github.com/Tethra-Dex/tethra-be/internal/pricecache"
)

func newLiquidationFixture(t *testing.T, client *ledgertest.Client) (*LiquidationController, *pricecache.Cache) {
	t.Helper()
	sub, _ := newTestSubmitter(t, client)
	cache := pricecache.New(pricecache.Options{})
	ctrl := NewLiquidationController(LiquidationOptions{
		Client:    client,
		Cache:     cache,
		Submitter: sub,
	})
	return ctrl, cache
}

func putQuote(cache *pricecache.Cache, symbol string, price int64) {
	cache.Update(domain.Quote{
		Symbol:      symbol,
		Price:       decimal.NewFromInt(price),
		PublishTime: time.Now().UnixMilli(),
		Source:      domain.SourceWebsocket,
	})
}

func openLong(id uint64, symbol string, entry, size, collateral int64) *domain.Position {
	return &domain.Position{
		ID:         id,
		Trader:     "trader1",
		Symbol:     symbol,
		IsLong:     true,
		Collateral: decimal.NewFromInt(collateral),
		Size:       decimal.NewFromInt(size),
		Leverage:   10,
		EntryPrice: decimal.NewFromInt(entry),
		Status:     domain.PositionOpen,
	}
}

func TestLiquidation_HealthyPositionUntouched(t *testing.T) {
	client := ledgertest.New()
	// Long 100 @ 2000; at 1900 the loss is -500 bps of size.
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.Verdicts[1] = false

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 1900)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("expected no submission, got %d", got)
	}
}

func TestLiquidation_RemoteVerdictTriggersClose(t *testing.T) {
	client := ledgertest.New()
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.Verdicts[1] = true

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 1900)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 1 {
		t.Fatalf("expected 1 force-close submission, got %d", got)
	}
}

func TestLiquidation_ForceFloorOverridesVerdict(t *testing.T) {
	client := ledgertest.New()
	// At price 20 the long has lost 99% of its size: exactly the floor.
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.Verdicts[1] = false

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 20)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 1 {
		t.Fatalf("expected forced liquidation despite false verdict, got %d sends", got)
	}
}

func TestLiquidation_JustAboveFloorNotForced(t *testing.T) {
	client := ledgertest.New()
	// At price 21 the loss is -9895 bps, inside the -9900 floor.
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.Verdicts[1] = false

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 21)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("expected no submission just above the floor, got %d", got)
	}
}

func TestLiquidation_LeveragedHalfLossStaysOpen(t *testing.T) {
	client := ledgertest.New()
	// 10x leveraged long: size 1000 on 100 collateral. At price 1000 the
	// loss is -5000 bps of size, well inside the -9900 floor, even though
	// it is five times the collateral.
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 1000, 100)
	client.Verdicts[1] = false

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 1000)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("half-loss leveraged position must stay open, got %d sends", got)
	}
}

func TestLiquidation_LeveragedPositionForcedNearTotalLoss(t *testing.T) {
	client := ledgertest.New()
	// Same 10x position at price 10: -9950 bps, past the floor, forced
	// even with the risk service down.
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 1000, 100)
	client.VerdictErr = errors.New("risk service unavailable")

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 10)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 1 {
		t.Fatalf("expected forced liquidation at -9950 bps, got %d sends", got)
	}
}

func TestLiquidation_VerdictErrorDefaultsToNoAction(t *testing.T) {
	client := ledgertest.New()
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.VerdictErr = errors.New("risk service unavailable")

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 1900)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("unknown verdict must not liquidate, got %d sends", got)
	}
}

func TestLiquidation_VerdictErrorStillForcedAtFloor(t *testing.T) {
	client := ledgertest.New()
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.VerdictErr = errors.New("risk service unavailable")

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 10)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 1 {
		t.Fatalf("force floor must not depend on the remote verdict, got %d sends", got)
	}
}

func TestLiquidation_NoFreshQuoteSkips(t *testing.T) {
	client := ledgertest.New()
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)
	client.Verdicts[1] = true

	ctrl, _ := newLiquidationFixture(t, client)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("unpriced position must be skipped, got %d sends", got)
	}
}

func TestLiquidation_ClosedPositionIgnored(t *testing.T) {
	client := ledgertest.New()
	pos := openLong(1, "ETH-USD", 2000, 100, 100)
	pos.Status = domain.PositionClosed
	client.Positions[1] = pos
	client.Verdicts[1] = true

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 10)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 0 {
		t.Errorf("closed position must be ignored, got %d sends", got)
	}
}

func TestLiquidation_ShortPosition(t *testing.T) {
	client := ledgertest.New()
	short := openLong(1, "ETH-USD", 2000, 100, 100)
	short.IsLong = false
	client.Positions[1] = short
	client.Verdicts[1] = false

	ctrl, cache := newLiquidationFixture(t, client)
	// Price doubling against a short wipes the full position size.
	putQuote(cache, "ETH-USD", 4000)

	ctrl.Scan(context.Background())

	if got := client.SendCalls(); got != 1 {
		t.Fatalf("expected forced liquidation of underwater short, got %d sends", got)
	}
}

func TestLiquidation_Status(t *testing.T) {
	client := ledgertest.New()
	client.Positions[1] = openLong(1, "ETH-USD", 2000, 100, 100)

	ctrl, cache := newLiquidationFixture(t, client)
	putQuote(cache, "ETH-USD", 1900)

	ctrl.Scan(context.Background())

	st := ctrl.Status()
	if st.Running {
		t.Error("loop not started, expected running=false")
	}
	if st.LastScanned != 1 {
		t.Errorf("expected 1 scanned, got %d", st.LastScanned)
	}
	if len(st.TrackedSymbols) != 1 || st.TrackedSymbols[0] != "ETH-USD" {
		t.Errorf("unexpected tracked symbols %v", st.TrackedSymbols)
	}
}
