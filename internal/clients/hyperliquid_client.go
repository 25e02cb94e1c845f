package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

const orderSlippage = 0.005 // 0.5%

// HyperliquidClient is the perps venue client: order placement, position
// snapshots and settlement re-checks.
type HyperliquidClient struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
}

// NewHyperliquidClient derives the account address from the private key and
// builds the exchange client.
func NewHyperliquidClient(privateKey *ecdsa.PrivateKey, baseURL string) (*HyperliquidClient, error) {
	if privateKey == nil {
		return nil, errors.New("hyperliquid private key is nil")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pub).Hex()

	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{
		ex:          ex,
		info:        ex.Info(),
		accountAddr: accountAddr,
	}, nil
}

// AccountAddress returns the venue account address.
func (c *HyperliquidClient) AccountAddress() string { return c.accountAddr }

// cloidFromToken converts an idempotency token into a valid Hyperliquid
// cloid (0x + 32 hex chars). Deterministic: the same token always yields the
// same cloid, so a re-submitted intent cannot double-fill.
func cloidFromToken(token string) string {
	s := strings.TrimSpace(token)
	if s == "" {
		s = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:16])
}

// PlaceOrder submits the intent as an IOC order emulating a market fill.
// The returned reference is the cloid; failures are *domain.VenueError so
// the reconciler can distinguish recoverable timeouts.
func (c *HyperliquidClient) PlaceOrder(ctx context.Context, intent *domain.ExecutionIntent) (string, error) {
	var isBuy, reduceOnly bool
	switch intent.Action {
	case domain.ActionBuy:
		isBuy = true
	case domain.ActionSell:
		isBuy = false
	case domain.ActionClose:
		return c.closePosition(ctx, intent)
	default:
		return "", &domain.VenueError{Venue: "hyperliquid", Err: fmt.Errorf("unsupported action: %s", intent.Action)}
	}

	price, err := c.ex.SlippagePrice(ctx, intent.Coin, isBuy, orderSlippage, nil)
	if err != nil {
		return "", &domain.VenueError{Venue: "hyperliquid", Err: errors.Wrap(err, "slippage price")}
	}

	size, _ := intent.SizeUSDC.Div(decimal.NewFromFloat(price)).Round(8).Float64()
	cloid := cloidFromToken(intent.IdempotencyToken)

	req := hyperliquid.CreateOrderRequest{
		Coin:          intent.Coin,
		IsBuy:         isBuy,
		Price:         price,
		Size:          size,
		ReduceOnly:    reduceOnly,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err := c.ex.Order(ctx, req, nil); err != nil {
		return "", &domain.VenueError{
			Venue:     "hyperliquid",
			Reference: cloid,
			Timeout:   isTimeout(err),
			Err:       errors.Wrap(err, "place order"),
		}
	}

	return cloid, nil
}

// closePosition submits a reduce-only IOC order opposite to the current
// position for the intent's coin.
func (c *HyperliquidClient) closePosition(ctx context.Context, intent *domain.ExecutionIntent) (string, error) {
	snapshot, err := c.GetPositions(ctx)
	if err != nil {
		return "", &domain.VenueError{Venue: "hyperliquid", Err: errors.Wrap(err, "fetch positions for close")}
	}

	position, ok := snapshot.Find(intent.Coin)
	if !ok {
		return "", &domain.VenueError{Venue: "hyperliquid", Err: fmt.Errorf("no open position for %s", intent.Coin)}
	}

	// closing a long sells, closing a short buys
	isBuy := position.Side == domain.PositionSideShort

	price, err := c.ex.SlippagePrice(ctx, intent.Coin, isBuy, orderSlippage, nil)
	if err != nil {
		return "", &domain.VenueError{Venue: "hyperliquid", Err: errors.Wrap(err, "slippage price")}
	}

	size, _ := position.Size.Abs().Round(8).Float64()
	cloid := cloidFromToken(intent.IdempotencyToken)

	req := hyperliquid.CreateOrderRequest{
		Coin:          intent.Coin,
		IsBuy:         isBuy,
		Price:         price,
		Size:          size,
		ReduceOnly:    true,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}

	if _, err := c.ex.Order(ctx, req, nil); err != nil {
		return "", &domain.VenueError{
			Venue:     "hyperliquid",
			Reference: cloid,
			Timeout:   isTimeout(err),
			Err:       errors.Wrap(err, "close position"),
		}
	}

	return cloid, nil
}

// GetPositions fetches the account's open positions and available balance
// as one wholesale snapshot.
func (c *HyperliquidClient) GetPositions(ctx context.Context) (*domain.PositionSnapshot, error) {
	st, err := c.info.UserState(ctx, c.accountAddr)
	if err != nil {
		return nil, errors.Wrap(err, "get user state")
	}

	snapshot := &domain.PositionSnapshot{TakenAt: time.Now()}

	if st.Withdrawable != "" {
		if d, err := decimal.NewFromString(st.Withdrawable); err == nil {
			snapshot.AvailableBalance = d
		}
	}

	for _, ap := range st.AssetPositions {
		szi := strings.TrimSpace(ap.Position.Szi)
		if szi == "" || szi == "0" || szi == "0.0" {
			continue
		}
		size, err := decimal.NewFromString(szi)
		if err != nil || size.IsZero() {
			continue
		}

		side := domain.PositionSideLong
		if size.IsNegative() {
			side = domain.PositionSideShort
			size = size.Abs()
		}

		var entryPrice decimal.Decimal
		if ap.Position.EntryPx != nil {
			if d, err := decimal.NewFromString(*ap.Position.EntryPx); err == nil {
				entryPrice = d
			}
		}

		var pnl decimal.Decimal
		if ap.Position.UnrealizedPnl != "" {
			if d, err := decimal.NewFromString(ap.Position.UnrealizedPnl); err == nil {
				pnl = d
			}
		}

		snapshot.Positions = append(snapshot.Positions, domain.Position{
			Coin:          ap.Position.Coin,
			Side:          side,
			Size:          size,
			EntryPrice:    entryPrice,
			UnrealizedPnL: pnl,
		})
	}

	return snapshot, nil
}

// GetTransactionStatus re-checks an order reference (cloid) out-of-band.
func (c *HyperliquidClient) GetTransactionStatus(ctx context.Context, reference string) (reconciler.SettlementState, error) {
	res, err := c.info.QueryOrderByCloid(ctx, c.accountAddr, reference)
	if err != nil {
		return reconciler.SettlementPending, errors.Wrap(err, "query order by cloid")
	}

	if res == nil || res.Status != hyperliquid.OrderQueryStatusSuccess {
		return reconciler.SettlementPending, nil
	}

	switch res.Order.Status {
	case hyperliquid.OrderStatusValueFilled:
		return reconciler.SettlementConfirmed, nil
	case hyperliquid.OrderStatusValueOpen:
		return reconciler.SettlementPending, nil
	case hyperliquid.OrderStatusValueCanceled,
		hyperliquid.OrderStatusValueRejected,
		hyperliquid.OrderStatusValueReduceOnlyCanceled,
		hyperliquid.OrderStatusValueScheduledCancel,
		hyperliquid.OrderStatusValueOpenInterestCapCanceled,
		hyperliquid.OrderStatusValueSelfTradeCanceled,
		hyperliquid.OrderStatusValueReduceOnlyRejected:
		return reconciler.SettlementFailed, nil
	default:
		return reconciler.SettlementPending, nil
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") || strings.Contains(msg, "expired")
}
