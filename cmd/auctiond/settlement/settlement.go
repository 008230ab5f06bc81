// Package settlement redeems winning vouchers and lazily mints the auctioned assets.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/metrics"
	"github.com/textileio/lazyauction/cmd/auctiond/store"
	mh "github.com/textileio/lazyauction/metrics"
	"github.com/textileio/lazyauction/sempool"
	"github.com/textileio/lazyauction/voucher"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("settlement")

// Engine settles auctions. It shares the per-asset locks of the auctioneer so a redemption
// observes a record no pick or cancellation can change underneath it.
type Engine struct {
	store  store.Store
	locks  *sempool.SemaphorePool
	codec  *voucher.Codec
	ledger auction.LedgerClearer
	now    func() time.Time

	clearTimeout time.Duration

	metricRedeemed metric.Int64Counter
	metricDuration metric.Int64Histogram
}

// Config configures an Engine.
type Config struct {
	// Ledger is cleared after every redemption. It may be nil.
	Ledger auction.LedgerClearer
	// ClearTimeout bounds the ledger call. Defaults to 10 seconds.
	ClearTimeout time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// New returns a new Engine.
func New(s store.Store, locks *sempool.SemaphorePool, codec *voucher.Codec, conf Config) (*Engine, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	if locks == nil {
		return nil, errors.New("lock pool is nil")
	}
	if codec == nil {
		return nil, errors.New("voucher codec is nil")
	}
	if conf.ClearTimeout == 0 {
		conf.ClearTimeout = time.Second * 10
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	return &Engine{
		store:          s,
		locks:          locks,
		codec:          codec,
		ledger:         conf.Ledger,
		now:            conf.Now,
		clearTimeout:   conf.ClearTimeout,
		metricRedeemed: metrics.Meter.NewInt64Counter(metrics.Prefix + ".redemptions_total"),
		metricDuration: metrics.Meter.NewInt64Histogram(metrics.Prefix + ".redemption_duration_ms"),
	}, nil
}

// Redeem settles the picked winner of an auction. The voucher must recover to the picked
// bidder and carry the picked price and the auction asset id. On success the asset is minted
// to the bidder and the auction becomes Redeemed. Nothing is written on failure.
func (e *Engine) Redeem(
	ctx context.Context,
	key auction.Key,
	v voucher.Voucher,
	payment *big.Int,
) (r auction.Receipt, err error) {
	start := time.Now()
	defer func() {
		mh.MetricIncrCounter(ctx, err, e.metricRedeemed)
		mh.MetricRecordDuration(ctx, start, e.metricDuration)
	}()

	if err := key.Validate(); err != nil {
		return auction.Receipt{}, err
	}
	if payment == nil || payment.Sign() < 0 {
		return auction.Receipt{}, fmt.Errorf("payment must be a non-negative amount: %w", auction.ErrInvalidArgument)
	}

	err = e.locks.Do(ctx, sempool.StringKey(key.String()), func() error {
		rec, err := e.store.GetAuction(ctx, key)
		if err != nil {
			return err
		}
		if rec.Status != auction.StatusActive || !rec.HasWinner() {
			return fmt.Errorf("auction %s is %s without a redeemable winner: %w",
				key, rec.State(e.now()), auction.ErrNotActive)
		}

		signer, err := voucher.VerifyVoucher(v, e.codec.Domain(key.Collection))
		if err != nil {
			return err
		}
		if signer != rec.HighestBidder {
			return fmt.Errorf("voucher signed by %s, winner is %s: %w",
				signer.Hex(), rec.HighestBidder.Hex(), auction.ErrVoucherMismatch)
		}
		if v.BidPrice.Cmp(rec.HighestBidPrice) != 0 {
			return fmt.Errorf("voucher price %s, winning price %s: %w",
				v.BidPrice, rec.HighestBidPrice, auction.ErrVoucherMismatch)
		}
		if auction.AssetID(v.AssetID) != key.AssetID {
			return fmt.Errorf("voucher asset %s, auction asset %s: %w", v.AssetID, key.AssetID, auction.ErrVoucherMismatch)
		}
		if payment.Cmp(rec.HighestBidPrice) < 0 {
			return fmt.Errorf("payment %s is below price %s: %w", payment, rec.HighestBidPrice, auction.ErrInsufficientPayment)
		}

		now := e.now()
		rec.Status = auction.StatusRedeemed
		rec.UpdatedAt = now
		own, err := e.store.CommitRedemption(ctx, rec, signer, v.URI, now)
		if err != nil {
			return fmt.Errorf("committing redemption: %w", err)
		}
		r = auction.Receipt{
			ID:         uuid.New().String(),
			Collection: key.Collection,
			AssetID:    key.AssetID,
			Round:      rec.Round,
			TokenID:    own.TokenID,
			Bidder:     signer,
			Seller:     rec.Seller,
			Price:      new(big.Int).Set(rec.HighestBidPrice),
			Payment:    new(big.Int).Set(payment),
			RedeemedAt: now,
		}
		return nil
	})
	if err != nil {
		return auction.Receipt{}, err
	}
	log.Infof("auction %s round %d redeemed by %s for %s ETH: token %s (receipt %s)",
		key, r.Round, r.Bidder.Hex(), auction.FormatEther(r.Price), r.TokenID, r.ID)

	r.LedgerCleared = e.clearLedger(ctx, key.AssetID)
	return r, nil
}

// GetOwnership returns the minted ownership of an asset.
func (e *Engine) GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error) {
	if err := key.Validate(); err != nil {
		return auction.Ownership{}, err
	}
	return e.store.GetOwnership(ctx, key)
}

// clearLedger removes the advisory bids of a settled asset. Failures are logged and never
// undo the redemption.
func (e *Engine) clearLedger(ctx context.Context, id auction.AssetID) bool {
	if e.ledger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.clearTimeout)
	defer cancel()
	n, err := e.ledger.Clear(ctx, id)
	if err != nil {
		log.Warnf("clearing ledger bids of %s: %v", id, err)
		return false
	}
	log.Debugf("cleared %d ledger bids of %s", n, id)
	return true
}
