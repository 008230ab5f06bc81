// Package dsstore implements the settlement store on top of a go-datastore.
package dsstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/store"
)

var (
	log = golog.Logger("auctiond/dsstore")

	// dsAuctionPrefix holds the current round of every auction.
	// Structure: /auctions/<collection>/<asset_id> -> auction.Record.
	dsAuctionPrefix = ds.NewKey("/auctions")
	// dsRoundPrefix archives every round of an auction.
	// Structure: /rounds/<collection>/<asset_id>/<round> -> auction.Record.
	dsRoundPrefix = ds.NewKey("/rounds")
	// dsOwnerPrefix holds minted ownership.
	// Structure: /owners/<collection>/<asset_id> -> auction.Ownership.
	dsOwnerPrefix = ds.NewKey("/owners")
	// dsTokenPrefix holds the last token id minted per collection.
	// Structure: /tokens/<collection> -> big-endian token id.
	dsTokenPrefix = ds.NewKey("/tokens")
	// dsAdminPrefix holds the administrator set.
	// Structure: /admins/<address> -> nil.
	dsAdminPrefix = ds.NewKey("/admins")
)

var _ store.Store = (*Store)(nil)

// Store is a go-datastore backed settlement store.
type Store struct {
	store ds.Batching

	// lk serializes writes so batches observe a consistent token counter.
	lk sync.Mutex
}

// New returns a new Store.
func New(store ds.Batching) *Store {
	return &Store{store: store}
}

// GetAuction returns the current record for key.
func (s *Store) GetAuction(ctx context.Context, key auction.Key) (auction.Record, error) {
	var rec auction.Record
	if err := get(ctx, s.store, auctionKey(key), &rec); err != nil {
		return auction.Record{}, fmt.Errorf("getting auction %s: %w", key, err)
	}
	return rec, nil
}

// SaveAuction writes the current record and archives its round.
func (s *Store) SaveAuction(ctx context.Context, rec auction.Record) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	b, err := s.store.Batch(ctx)
	if err != nil {
		return fmt.Errorf("creating batch: %v", err)
	}
	if err := putAuction(ctx, b, rec); err != nil {
		return err
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %v", err)
	}
	return nil
}

// CommitRedemption mints the next token id and saves rec in a single batch. An asset minted
// by an earlier round keeps its token id and passes to the new owner.
func (s *Store) CommitRedemption(
	ctx context.Context,
	rec auction.Record,
	owner common.Address,
	uri string,
	at time.Time,
) (auction.Ownership, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	key := rec.Key()
	var cur auction.Record
	err := get(ctx, s.store, auctionKey(key), &cur)
	if err != nil && !errors.Is(err, auction.ErrNotFound) {
		return auction.Ownership{}, fmt.Errorf("getting auction: %v", err)
	}
	if err == nil && (cur.Round > rec.Round || (cur.Round == rec.Round && cur.Status == auction.StatusRedeemed)) {
		return auction.Ownership{}, fmt.Errorf("auction %s round %d is no longer redeemable: %w", key, rec.Round, auction.ErrNotActive)
	}

	b, err := s.store.Batch(ctx)
	if err != nil {
		return auction.Ownership{}, fmt.Errorf("creating batch: %v", err)
	}

	var own auction.Ownership
	switch err := get(ctx, s.store, ownerKey(key), &own); {
	case err == nil:
		log.Debugf("transferring token %s of %s from %s to %s", own.TokenID, rec.Collection.Hex(), own.Owner.Hex(), owner.Hex())
		own.Owner = owner
		own.URI = uri
	case errors.Is(err, auction.ErrNotFound):
		tk := dsTokenPrefix.ChildString(addrString(rec.Collection))
		v, err := s.store.Get(ctx, tk)
		if err != nil && !errors.Is(err, ds.ErrNotFound) {
			return auction.Ownership{}, fmt.Errorf("getting token counter: %v", err)
		}
		tokenID := new(big.Int).Add(new(big.Int).SetBytes(v), big.NewInt(1))
		if err := b.Put(ctx, tk, tokenID.Bytes()); err != nil {
			return auction.Ownership{}, fmt.Errorf("putting token counter: %v", err)
		}
		own = auction.Ownership{
			Collection: rec.Collection,
			AssetID:    rec.AssetID,
			TokenID:    tokenID,
			Owner:      owner,
			URI:        uri,
			MintedAt:   at,
		}
		log.Debugf("minted token %s of %s to %s", tokenID, rec.Collection.Hex(), owner.Hex())
	default:
		return auction.Ownership{}, fmt.Errorf("getting ownership: %v", err)
	}
	rec.TokenID = own.TokenID

	ov, err := encode(own)
	if err != nil {
		return auction.Ownership{}, fmt.Errorf("encoding ownership: %v", err)
	}
	if err := b.Put(ctx, ownerKey(key), ov); err != nil {
		return auction.Ownership{}, fmt.Errorf("putting ownership: %v", err)
	}
	if err := putAuction(ctx, b, rec); err != nil {
		return auction.Ownership{}, err
	}
	if err := b.Commit(ctx); err != nil {
		return auction.Ownership{}, fmt.Errorf("committing batch: %v", err)
	}
	return own, nil
}

// GetOwnership returns the minted ownership of an asset.
func (s *Store) GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error) {
	var own auction.Ownership
	if err := get(ctx, s.store, ownerKey(key), &own); err != nil {
		return auction.Ownership{}, fmt.Errorf("getting ownership %s: %w", key, err)
	}
	return own, nil
}

// ListRounds returns every archived round of an auction, oldest first.
func (s *Store) ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error) {
	res, err := s.store.Query(ctx, dsq.Query{
		Prefix: dsRoundPrefix.Child(assetKey(key)).String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %v", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Errorf("closing query result: %v", err)
		}
	}()

	var recs []auction.Record
	for r := range res.Next() {
		if r.Error != nil {
			return nil, fmt.Errorf("iterating rounds: %v", r.Error)
		}
		var rec auction.Record
		if err := decode(r.Value, &rec); err != nil {
			return nil, fmt.Errorf("decoding round: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// IsAdministrator returns true if addr is an administrator.
func (s *Store) IsAdministrator(ctx context.Context, addr common.Address) (bool, error) {
	return s.store.Has(ctx, dsAdminPrefix.ChildString(addrString(addr)))
}

// AddAdministrator adds addr to the administrator set.
func (s *Store) AddAdministrator(ctx context.Context, addr common.Address) error {
	if err := s.store.Put(ctx, dsAdminPrefix.ChildString(addrString(addr)), nil); err != nil {
		return fmt.Errorf("putting administrator: %v", err)
	}
	return nil
}

// Close closes the underlying datastore.
func (s *Store) Close() error {
	return s.store.Close()
}

func putAuction(ctx context.Context, w ds.Write, rec auction.Record) error {
	v, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encoding auction: %v", err)
	}
	if err := w.Put(ctx, auctionKey(rec.Key()), v); err != nil {
		return fmt.Errorf("putting auction: %v", err)
	}
	rk := dsRoundPrefix.Child(assetKey(rec.Key())).ChildString(fmt.Sprintf("%020d", rec.Round))
	if err := w.Put(ctx, rk, v); err != nil {
		return fmt.Errorf("putting round: %v", err)
	}
	return nil
}

func get(ctx context.Context, r ds.Read, k ds.Key, v interface{}) error {
	b, err := r.Get(ctx, k)
	if errors.Is(err, ds.ErrNotFound) {
		return auction.ErrNotFound
	} else if err != nil {
		return err
	}
	return decode(b, v)
}

func assetKey(key auction.Key) ds.Key {
	return ds.NewKey(addrString(key.Collection)).ChildString(string(key.AssetID))
}

func auctionKey(key auction.Key) ds.Key {
	return dsAuctionPrefix.Child(assetKey(key))
}

func ownerKey(key auction.Key) ds.Key {
	return dsOwnerPrefix.Child(assetKey(key))
}

func addrString(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
