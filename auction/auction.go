package auction

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/lazyauction/voucher"
)

// AssetID identifies an asset inside a collection. It is usually the IPFS CID of the asset metadata.
type AssetID string

// Validate returns an error if id cannot name a single asset. Asset ids are used as
// one storage key segment, so path separators and dot segments are refused.
func (id AssetID) Validate() error {
	switch {
	case id == "":
		return fmt.Errorf("asset id is empty: %w", ErrInvalidArgument)
	case id == "." || id == "..":
		return fmt.Errorf("asset id %q is a relative path: %w", id, ErrInvalidArgument)
	case strings.Contains(string(id), "/"):
		return fmt.Errorf("asset id contains a path separator: %w", ErrInvalidArgument)
	}
	return nil
}

// Key identifies an auction record. There is at most one live record per key.
type Key struct {
	Collection common.Address
	AssetID    AssetID
}

// String returns a stable representation of the key, "<collection>/<asset_id>".
func (k Key) String() string {
	return strings.ToLower(k.Collection.Hex()) + "/" + string(k.AssetID)
}

// Validate returns an error if the key is incomplete.
func (k Key) Validate() error {
	if err := k.AssetID.Validate(); err != nil {
		return err
	}
	if k.Collection == (common.Address{}) {
		return fmt.Errorf("collection address is empty: %w", ErrInvalidArgument)
	}
	return nil
}

// Status is the persisted status of an auction record.
type Status int

const (
	// StatusUninitialized indicates no auction was ever created for the key.
	StatusUninitialized Status = iota
	// StatusActive indicates the auction accepts bids and picks.
	StatusActive
	// StatusEnded indicates the deadline has passed and the auction was not settled yet.
	// It is never persisted; see Record.State.
	StatusEnded
	// StatusRedeemed indicates the winning voucher was redeemed and the asset minted. Terminal.
	StatusRedeemed
	// StatusCancelled indicates the auction was cancelled. Terminal.
	StatusCancelled
)

// String returns a string-encoded status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	case StatusRedeemed:
		return "redeemed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// StatusByString returns the Status for its string representation.
func StatusByString(s string) (Status, error) {
	switch s {
	case "uninitialized":
		return StatusUninitialized, nil
	case "active":
		return StatusActive, nil
	case "ended":
		return StatusEnded, nil
	case "redeemed":
		return StatusRedeemed, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusUninitialized, fmt.Errorf("unknown status %q", s)
	}
}

// Terminal returns true if no further mutation of the record is permitted.
func (s Status) Terminal() bool {
	return s == StatusRedeemed || s == StatusCancelled
}

// Record is the authoritative state of an auction.
type Record struct {
	Collection      common.Address
	AssetID         AssetID
	Round           uint64
	Seller          common.Address
	FloorPrice      *big.Int
	Deadline        time.Time
	Status          Status
	HighestBidder   common.Address
	HighestBidPrice *big.Int
	PickedAt        time.Time
	TokenID         *big.Int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the record key.
func (r Record) Key() Key {
	return Key{Collection: r.Collection, AssetID: r.AssetID}
}

// HasWinner returns true if a winning bid was picked.
func (r Record) HasWinner() bool {
	return r.HighestBidder != (common.Address{})
}

// State returns the lifecycle state observed at now. Active auctions whose deadline passed
// report StatusEnded until they are redeemed or cancelled.
func (r Record) State(now time.Time) Status {
	if r.Status == StatusActive && !now.Before(r.Deadline) {
		return StatusEnded
	}
	return r.Status
}

// Copy returns a deep copy of the record, so callers never share big.Int values.
func (r Record) Copy() Record {
	c := r
	c.FloorPrice = copyInt(r.FloorPrice)
	c.HighestBidPrice = copyInt(r.HighestBidPrice)
	c.TokenID = copyInt(r.TokenID)
	return c
}

func copyInt(i *big.Int) *big.Int {
	if i == nil {
		return nil
	}
	return new(big.Int).Set(i)
}

// Ownership records a lazily minted asset.
type Ownership struct {
	Collection common.Address
	AssetID    AssetID
	TokenID    *big.Int
	Owner      common.Address
	URI        string
	MintedAt   time.Time
}

// Receipt is returned by a successful redemption.
type Receipt struct {
	ID            string
	Collection    common.Address
	AssetID       AssetID
	Round         uint64
	TokenID       *big.Int
	Bidder        common.Address
	Seller        common.Address
	Price         *big.Int
	Payment       *big.Int
	RedeemedAt    time.Time
	LedgerCleared bool
}

// CreateParams describes a new auction.
type CreateParams struct {
	Collection common.Address
	AssetID    AssetID
	// Seller defaults to the caller when zero.
	Seller     common.Address
	FloorPrice *big.Int
	Deadline   time.Time
}

// Authority is the settlement authority surface consumed by user interfaces and by the bid ledger.
type Authority interface {
	// CreateTokenAuction starts a new auction round for an asset.
	CreateTokenAuction(ctx context.Context, caller common.Address, params CreateParams) (Record, error)
	// GetTokenAuctionDetails returns the current auction record.
	GetTokenAuctionDetails(ctx context.Context, key Key) (Record, error)
	// PickAsWinner records the winning bid of an active auction.
	PickAsWinner(ctx context.Context, caller common.Address, key Key, amount *big.Int, bidder common.Address) (Record, error)
	// CancelAuction cancels an active auction with no winner.
	CancelAuction(ctx context.Context, caller common.Address, key Key) (Record, error)
	// Redeem settles the picked winner's voucher and lazily mints the asset.
	Redeem(ctx context.Context, key Key, v voucher.Voucher, payment *big.Int) (Receipt, error)
	// Administrators returns true if addr is an administrator.
	Administrators(ctx context.Context, addr common.Address) (bool, error)
	// AddAdministrator adds addr to the administrator set. The caller must be an administrator.
	AddAdministrator(ctx context.Context, caller, addr common.Address) error
}

// LedgerClearer removes advisory bids for an asset once its auction reached a terminal state.
type LedgerClearer interface {
	Clear(ctx context.Context, id AssetID) (int, error)
}
