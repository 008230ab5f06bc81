package auctioneer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/store"
	"github.com/textileio/lazyauction/sempool"
	"go.opentelemetry.io/otel/metric"
)

// LogName is the auctioneer log subsystem.
const LogName = "auctioneer"

var log = golog.Logger(LogName)

// PickPolicy decides whether a winner may be picked after the auction deadline.
type PickPolicy int

const (
	// PickGrace allows picking a winner after the deadline, up to redemption.
	PickGrace PickPolicy = iota
	// PickStrict rejects picks once the deadline passed.
	PickStrict
)

// String returns a string-encoded policy.
func (p PickPolicy) String() string {
	switch p {
	case PickGrace:
		return "grace"
	case PickStrict:
		return "strict"
	default:
		return "invalid"
	}
}

// PickPolicyByString returns the PickPolicy for its string representation.
func PickPolicyByString(s string) (PickPolicy, error) {
	switch s {
	case "grace", "":
		return PickGrace, nil
	case "strict":
		return PickStrict, nil
	default:
		return PickGrace, fmt.Errorf("unknown pick policy %q", s)
	}
}

// Config configures an Auctioneer.
type Config struct {
	// BootstrapAdmin is added to the administrator set on start when not zero.
	BootstrapAdmin common.Address
	// PickPolicy controls picks after the deadline.
	PickPolicy PickPolicy
	// Ledger is cleared after every cancellation. It may be nil.
	Ledger auction.LedgerClearer
	// ClearTimeout bounds the ledger call. Defaults to 10 seconds.
	ClearTimeout time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Auctioneer owns auction records and enforces their lifecycle.
// Every mutation of a key runs under that key's lock in Locks, which the settlement
// engine shares so redemption never interleaves with picks or cancellations.
type Auctioneer struct {
	store  store.Store
	locks  *sempool.SemaphorePool
	policy PickPolicy
	ledger auction.LedgerClearer
	now    func() time.Time

	clearTimeout time.Duration

	metricCreated   metric.Int64Counter
	metricPicked    metric.Int64Counter
	metricCancelled metric.Int64Counter
}

// New returns a new Auctioneer. The bootstrap administrator, if any, is persisted before
// New returns.
func New(ctx context.Context, s store.Store, locks *sempool.SemaphorePool, conf Config) (*Auctioneer, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	if locks == nil {
		locks = sempool.NewSemaphorePool(1)
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.ClearTimeout == 0 {
		conf.ClearTimeout = time.Second * 10
	}
	a := &Auctioneer{
		store:        s,
		locks:        locks,
		policy:       conf.PickPolicy,
		ledger:       conf.Ledger,
		now:          conf.Now,
		clearTimeout: conf.ClearTimeout,
	}
	a.initMetrics()

	if conf.BootstrapAdmin != (common.Address{}) {
		if err := s.AddAdministrator(ctx, conf.BootstrapAdmin); err != nil {
			return nil, fmt.Errorf("adding bootstrap administrator: %v", err)
		}
		log.Infof("bootstrap administrator %s", conf.BootstrapAdmin.Hex())
	}
	return a, nil
}

// Now returns the auctioneer's notion of the current time.
func (a *Auctioneer) Now() time.Time {
	return a.now()
}

// Administrators returns true if addr is an administrator.
func (a *Auctioneer) Administrators(ctx context.Context, addr common.Address) (bool, error) {
	return a.store.IsAdministrator(ctx, addr)
}

// AddAdministrator adds addr to the administrator set. Only administrators may add others.
func (a *Auctioneer) AddAdministrator(ctx context.Context, caller, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("administrator address is empty: %w", auction.ErrInvalidArgument)
	}
	ok, err := a.store.IsAdministrator(ctx, caller)
	if err != nil {
		return fmt.Errorf("checking caller: %v", err)
	}
	if !ok {
		return fmt.Errorf("%s is not an administrator: %w", caller.Hex(), auction.ErrUnauthorized)
	}
	if err := a.store.AddAdministrator(ctx, addr); err != nil {
		return fmt.Errorf("adding administrator: %v", err)
	}
	log.Infof("administrator %s added by %s", addr.Hex(), caller.Hex())
	return nil
}

// CreateTokenAuction starts a new auction for an asset. It is allowed when no auction exists
// for the asset or the previous round was redeemed or cancelled; the new round always starts
// from a fresh record.
func (a *Auctioneer) CreateTokenAuction(
	ctx context.Context,
	caller common.Address,
	params auction.CreateParams,
) (rec auction.Record, err error) {
	defer func() { a.incr(ctx, err, a.metricCreated) }()

	key := auction.Key{Collection: params.Collection, AssetID: params.AssetID}
	if err := key.Validate(); err != nil {
		return auction.Record{}, err
	}
	seller := params.Seller
	if seller == (common.Address{}) {
		seller = caller
	}
	if seller != caller {
		ok, err := a.store.IsAdministrator(ctx, caller)
		if err != nil {
			return auction.Record{}, fmt.Errorf("checking caller: %v", err)
		}
		if !ok {
			return auction.Record{}, fmt.Errorf("creating auction for %s: %w", seller.Hex(), auction.ErrUnauthorized)
		}
	}
	if !voucherAmount(params.FloorPrice) {
		return auction.Record{}, fmt.Errorf("floor price must be positive: %w", auction.ErrInvalidArgument)
	}

	err = a.locks.Do(ctx, lockKey(key), func() error {
		now := a.now()
		if !params.Deadline.After(now) {
			return fmt.Errorf("deadline %s is not in the future: %w", params.Deadline, auction.ErrInvalidArgument)
		}

		var round uint64 = 1
		prev, err := a.store.GetAuction(ctx, key)
		switch {
		case errors.Is(err, auction.ErrNotFound):
		case err != nil:
			return fmt.Errorf("getting auction: %v", err)
		case !prev.Status.Terminal():
			return fmt.Errorf("auction %s round %d is %s: %w", key, prev.Round, prev.State(now), auction.ErrAlreadyActive)
		default:
			round = prev.Round + 1
		}

		rec = auction.Record{
			Collection: key.Collection,
			AssetID:    key.AssetID,
			Round:      round,
			Seller:     seller,
			FloorPrice: new(big.Int).Set(params.FloorPrice),
			Deadline:   params.Deadline,
			Status:     auction.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := a.store.SaveAuction(ctx, rec); err != nil {
			return fmt.Errorf("saving auction: %v", err)
		}
		return nil
	})
	if err != nil {
		return auction.Record{}, err
	}
	log.Infof("auction %s round %d created by %s: floor %s ETH, ends %s",
		key, rec.Round, caller.Hex(), auction.FormatEther(rec.FloorPrice), humanize.Time(rec.Deadline))
	return rec.Copy(), nil
}

// GetTokenAuctionDetails returns the current record of an auction.
func (a *Auctioneer) GetTokenAuctionDetails(ctx context.Context, key auction.Key) (auction.Record, error) {
	if err := key.Validate(); err != nil {
		return auction.Record{}, err
	}
	rec, err := a.store.GetAuction(ctx, key)
	if err != nil {
		return auction.Record{}, err
	}
	return rec, nil
}

// ListRounds returns every round of an auction, oldest first.
func (a *Auctioneer) ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	recs, err := a.store.ListRounds(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %v", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("rounds of %s: %w", key, auction.ErrNotFound)
	}
	return recs, nil
}

// PickAsWinner records bidder's bid as the winning bid. The highest price never decreases:
// a pick must meet the floor and exceed the current highest price; an equal price from
// another bidder is rejected, so the first pick at a price wins.
func (a *Auctioneer) PickAsWinner(
	ctx context.Context,
	caller common.Address,
	key auction.Key,
	amount *big.Int,
	bidder common.Address,
) (rec auction.Record, err error) {
	defer func() { a.incr(ctx, err, a.metricPicked) }()

	if err := key.Validate(); err != nil {
		return auction.Record{}, err
	}
	if bidder == (common.Address{}) {
		return auction.Record{}, fmt.Errorf("bidder is empty: %w", auction.ErrInvalidArgument)
	}
	if !voucherAmount(amount) {
		return auction.Record{}, fmt.Errorf("bid amount must be positive: %w", auction.ErrRejected)
	}

	err = a.locks.Do(ctx, lockKey(key), func() error {
		rec, err = a.authorize(ctx, caller, key)
		if err != nil {
			return err
		}
		now := a.now()
		if rec.Status != auction.StatusActive {
			return fmt.Errorf("auction %s is %s: %w", key, rec.Status, auction.ErrNotActive)
		}
		if a.policy == PickStrict && rec.State(now) == auction.StatusEnded {
			return fmt.Errorf("auction %s ended at %s: %w", key, rec.Deadline, auction.ErrNotActive)
		}
		if amount.Cmp(rec.FloorPrice) < 0 {
			return fmt.Errorf("bid %s is below floor price %s: %w", amount, rec.FloorPrice, auction.ErrRejected)
		}
		if rec.HasWinner() {
			switch amount.Cmp(rec.HighestBidPrice) {
			case -1:
				return fmt.Errorf("bid %s is below highest bid %s: %w", amount, rec.HighestBidPrice, auction.ErrRejected)
			case 0:
				if bidder == rec.HighestBidder {
					return nil
				}
				return fmt.Errorf("bid %s ties the earlier pick of %s: %w", amount, rec.HighestBidder.Hex(), auction.ErrRejected)
			}
		}

		rec.HighestBidder = bidder
		rec.HighestBidPrice = new(big.Int).Set(amount)
		rec.PickedAt = now
		rec.UpdatedAt = now
		if err := a.store.SaveAuction(ctx, rec); err != nil {
			return fmt.Errorf("saving auction: %v", err)
		}
		log.Infof("auction %s round %d: %s picked %s at %s ETH",
			key, rec.Round, caller.Hex(), bidder.Hex(), auction.FormatEther(amount))
		return nil
	})
	if err != nil {
		return auction.Record{}, err
	}
	return rec.Copy(), nil
}

// CancelAuction cancels an active auction that has no picked winner.
func (a *Auctioneer) CancelAuction(ctx context.Context, caller common.Address, key auction.Key) (rec auction.Record, err error) {
	defer func() { a.incr(ctx, err, a.metricCancelled) }()

	if err := key.Validate(); err != nil {
		return auction.Record{}, err
	}
	err = a.locks.Do(ctx, lockKey(key), func() error {
		rec, err = a.authorize(ctx, caller, key)
		if err != nil {
			return err
		}
		if rec.Status != auction.StatusActive {
			return fmt.Errorf("auction %s is %s: %w", key, rec.Status, auction.ErrNotActive)
		}
		if rec.HasWinner() {
			return fmt.Errorf("auction %s already picked %s: %w", key, rec.HighestBidder.Hex(), auction.ErrCannotCancel)
		}
		now := a.now()
		rec.Status = auction.StatusCancelled
		rec.UpdatedAt = now
		if err := a.store.SaveAuction(ctx, rec); err != nil {
			return fmt.Errorf("saving auction: %v", err)
		}
		log.Infof("auction %s round %d cancelled by %s", key, rec.Round, caller.Hex())
		return nil
	})
	if err != nil {
		return auction.Record{}, err
	}
	a.clearLedger(ctx, key.AssetID)
	return rec.Copy(), nil
}

// clearLedger drops the bids of a cancelled round so a later round does not see them.
// Failures are logged.
func (a *Auctioneer) clearLedger(ctx context.Context, id auction.AssetID) {
	if a.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.clearTimeout)
	defer cancel()
	n, err := a.ledger.Clear(ctx, id)
	if err != nil {
		log.Warnf("clearing ledger bids of %s: %v", id, err)
		return
	}
	log.Debugf("cleared %d ledger bids of %s", n, id)
}

// authorize returns the record if caller is an administrator or the seller. Callers that are
// not administrators learn nothing about auctions they cannot manage, including whether
// the auction exists.
func (a *Auctioneer) authorize(ctx context.Context, caller common.Address, key auction.Key) (auction.Record, error) {
	admin, err := a.store.IsAdministrator(ctx, caller)
	if err != nil {
		return auction.Record{}, fmt.Errorf("checking caller: %v", err)
	}
	rec, err := a.store.GetAuction(ctx, key)
	if errors.Is(err, auction.ErrNotFound) && !admin {
		return auction.Record{}, fmt.Errorf("caller %s: %w", caller.Hex(), auction.ErrUnauthorized)
	} else if err != nil {
		return auction.Record{}, err
	}
	if !admin && rec.Seller != caller {
		return auction.Record{}, fmt.Errorf("caller %s: %w", caller.Hex(), auction.ErrUnauthorized)
	}
	return rec, nil
}

func lockKey(key auction.Key) sempool.StringKey {
	return sempool.StringKey(key.String())
}

func voucherAmount(a *big.Int) bool {
	return a != nil && a.Sign() > 0 && a.BitLen() <= 256
}
