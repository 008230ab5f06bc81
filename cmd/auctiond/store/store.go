// Package store defines the settlement substrate the auction daemon writes to.
// Implementations live in the dsstore (go-datastore) and pgstore (postgres) packages.
package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/lazyauction/auction"
)

// Store persists auction records, lazily minted ownership and the administrator set.
// Implementations must make CommitRedemption atomic: either the record is marked
// redeemed and the ownership written, or nothing changes.
type Store interface {
	// GetAuction returns the current record for key, or auction.ErrNotFound.
	GetAuction(ctx context.Context, key auction.Key) (auction.Record, error)
	// ListRounds returns every round recorded for key, oldest first.
	ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error)
	// SaveAuction writes the current record for its key and round.
	SaveAuction(ctx context.Context, rec auction.Record) error
	// CommitRedemption mints the next token id of the collection to owner and saves rec
	// (already marked redeemed) with that token id, in one transaction. If an earlier round
	// minted the asset, its token id is kept and ownership passes to owner. Committing a
	// round that is already redeemed fails with auction.ErrNotActive.
	CommitRedemption(ctx context.Context, rec auction.Record, owner common.Address, uri string, at time.Time) (auction.Ownership, error)
	// GetOwnership returns the minted ownership of an asset, or auction.ErrNotFound.
	GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error)
	// IsAdministrator returns true if addr belongs to the administrator set.
	IsAdministrator(ctx context.Context, addr common.Address) (bool, error)
	// AddAdministrator adds addr to the administrator set. Adding twice is a no-op.
	AddAdministrator(ctx context.Context, addr common.Address) error
	// Close releases the store resources.
	Close() error
}
