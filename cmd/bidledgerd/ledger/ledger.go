// Package ledger implements the bid ledger: an append-mostly record of signed bid
// vouchers per asset, keyed by bidder.
//
// The ledger is untrusted for settlement. It validates what it can about a bid (the
// voucher signature and the auction floor) so the auction seller sees only plausible
// bids, but the settlement authority re-verifies the winning voucher on redemption.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	"github.com/oklog/ulid/v2"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/voucher"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("bidledger")

// Entry is a submitted bid.
type Entry struct {
	ID          string
	AssetID     auction.AssetID
	Collection  common.Address
	Bidder      common.Address
	Amount      *big.Int
	Hash        string
	Voucher     voucher.Voucher
	SubmittedAt time.Time
}

// SubmitRequest is a bid submitted by a bidder.
type SubmitRequest struct {
	AssetID    auction.AssetID
	Collection common.Address
	Bidder     common.Address
	Amount     *big.Int
	// Hash is the hex encoded voucher signature.
	Hash    string
	Voucher voucher.Voucher
}

// Authority is the settlement authority view the ledger checks bids against.
type Authority interface {
	GetTokenAuctionDetails(ctx context.Context, key auction.Key) (auction.Record, error)
}

// Config configures a Ledger.
type Config struct {
	// Authority is used to cross-check bids. Bids are accepted unchecked when nil.
	Authority Authority
	// AuthorityTimeout bounds the cross-check.
	AuthorityTimeout time.Duration
	// Now overrides the clock.
	Now func() time.Time
}

// Ledger records bids.
type Ledger struct {
	store     *store
	codec     *voucher.Codec
	authority Authority
	timeout   time.Duration
	now       func() time.Time

	entropy *ulid.MonotonicEntropy
	lk      sync.Mutex

	metricSubmitted metric.Int64Counter
	metricCleared   metric.Int64Counter
}

// New returns a new Ledger.
func New(d ds.Batching, codec *voucher.Codec, conf Config) (*Ledger, error) {
	if codec == nil {
		return nil, errors.New("voucher codec is required")
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.AuthorityTimeout == 0 {
		conf.AuthorityTimeout = time.Second * 10
	}
	l := &Ledger{
		store:     &store{ds: d},
		codec:     codec,
		authority: conf.Authority,
		timeout:   conf.AuthorityTimeout,
		now:       conf.Now,
	}
	l.initMetrics()
	return l, nil
}

// Close closes the underlying datastore.
func (l *Ledger) Close() error {
	return l.store.ds.Close()
}

// Submit records a bid. A later bid from the same bidder for the same asset of the same
// collection replaces the earlier one.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (e Entry, err error) {
	defer func() { l.incr(ctx, err, l.metricSubmitted) }()

	key := auction.Key{Collection: req.Collection, AssetID: req.AssetID}
	if err := key.Validate(); err != nil {
		return Entry{}, err
	}
	if req.Bidder == (common.Address{}) {
		return Entry{}, fmt.Errorf("bidder is empty: %w", auction.ErrInvalidArgument)
	}
	if err := checkConsistent(req); err != nil {
		return Entry{}, err
	}
	if err := voucher.VerifyVoucherFrom(req.Voucher, l.codec.Domain(req.Collection), req.Bidder); err != nil {
		return Entry{}, err
	}
	if err := l.crossCheck(ctx, key, req.Amount); err != nil {
		return Entry{}, err
	}

	now := l.now()
	id, err := l.newID(now)
	if err != nil {
		return Entry{}, err
	}
	e = Entry{
		ID:          id,
		AssetID:     req.AssetID,
		Collection:  req.Collection,
		Bidder:      req.Bidder,
		Amount:      new(big.Int).Set(req.Amount),
		Hash:        req.Voucher.SignatureHex(),
		Voucher:     req.Voucher,
		SubmittedAt: now,
	}
	if err := l.store.put(ctx, e); err != nil {
		return Entry{}, err
	}
	log.Debugf("recorded bid %s for %s from %s at %s", e.ID, key, e.Bidder.Hex(), auction.FormatEther(e.Amount))
	return e, nil
}

// checkConsistent checks the request restates the voucher it carries.
func checkConsistent(req SubmitRequest) error {
	if req.Amount == nil || req.Voucher.BidPrice == nil || req.Amount.Cmp(req.Voucher.BidPrice) != 0 {
		return fmt.Errorf("amount does not match voucher bid price: %w", auction.ErrMalformedVoucher)
	}
	if !strings.EqualFold(req.Hash, req.Voucher.SignatureHex()) {
		return fmt.Errorf("hash does not match voucher signature: %w", auction.ErrMalformedVoucher)
	}
	if string(req.AssetID) != req.Voucher.AssetID {
		return fmt.Errorf("asset id does not match voucher: %w", auction.ErrMalformedVoucher)
	}
	return nil
}

func (l *Ledger) crossCheck(ctx context.Context, key auction.Key, amount *big.Int) error {
	if l.authority == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	rec, err := l.authority.GetTokenAuctionDetails(ctx, key)
	if errors.Is(err, auction.ErrNotFound) {
		return fmt.Errorf("auction %s: %w", key, auction.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("getting auction details: %v", err)
	}
	if rec.State(l.now()) != auction.StatusActive {
		return fmt.Errorf("auction %s is %s: %w", key, rec.State(l.now()), auction.ErrNotActive)
	}
	if amount.Cmp(rec.FloorPrice) < 0 {
		return fmt.Errorf("bid below floor price %s: %w", rec.FloorPrice, auction.ErrRejected)
	}
	if rec.HighestBidPrice != nil && amount.Cmp(rec.HighestBidPrice) < 0 {
		return fmt.Errorf("bid below picked price %s: %w", rec.HighestBidPrice, auction.ErrRejected)
	}
	return nil
}

// Query returns the latest bid of every bidder for an asset. When collection is not zero
// only bids on that collection are returned; otherwise a bidder with bids on several
// collections is represented by the most recent one.
func (l *Ledger) Query(ctx context.Context, id auction.AssetID, collection common.Address) (map[common.Address]Entry, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	entries, err := l.store.list(ctx, id, collection)
	if err != nil {
		return nil, err
	}
	res := make(map[common.Address]Entry, len(entries))
	for _, e := range entries {
		if prev, ok := res[e.Bidder]; ok && prev.ID > e.ID {
			continue
		}
		res[e.Bidder] = e
	}
	return res, nil
}

// Clear removes every bid for an asset and returns how many were removed.
func (l *Ledger) Clear(ctx context.Context, id auction.AssetID) (n int, err error) {
	defer func() {
		l.metricCleared.Add(ctx, int64(n), attribute.Bool("error", err != nil))
	}()
	if err := id.Validate(); err != nil {
		return 0, err
	}
	n, err = l.store.clear(ctx, id)
	if err != nil {
		return 0, err
	}
	log.Infof("cleared %d bids for %s", n, id)
	return n, nil
}

// newID returns new monotonically increasing entry ids.
func (l *Ledger) newID(t time.Time) (string, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if l.entropy == nil {
		l.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), l.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		l.entropy = ulid.Monotonic(rand.Reader, 0)
		id, err = ulid.New(ulid.Timestamp(t.UTC()), l.entropy)
	}
	if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return strings.ToLower(id.String()), nil
}
