package ledger

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/textileio/lazyauction/auction"
)

var (
	// dsPrefix is the prefix for bids.
	// Structure: /bids/<asset_id>/<collection>/<bidder> -> Entry.
	dsPrefix = ds.NewKey("/bids")
)

// store persists ledger entries. Entries are replaced whole, so concurrent writers of one
// bidder key resolve to the last write.
type store struct {
	ds ds.Batching
}

func (s *store) put(ctx context.Context, e Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encoding entry: %v", err)
	}
	if err := s.ds.Put(ctx, entryKey(e.AssetID, e.Collection, e.Bidder), buf.Bytes()); err != nil {
		return fmt.Errorf("putting entry: %v", err)
	}
	return nil
}

// list returns the entries of an asset, of every collection when collection is zero.
func (s *store) list(ctx context.Context, id auction.AssetID, collection common.Address) ([]Entry, error) {
	prefix := assetKey(id)
	if collection != (common.Address{}) {
		prefix = prefix.ChildString(addrString(collection))
	}
	res, err := s.ds.Query(ctx, dsq.Query{
		Prefix: prefix.String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying entries: %v", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			log.Errorf("closing query result: %v", err)
		}
	}()

	var entries []Entry
	for r := range res.Next() {
		if r.Error != nil {
			return nil, fmt.Errorf("iterating entries: %v", r.Error)
		}
		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(r.Value)).Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding entry: %v", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *store) clear(ctx context.Context, id auction.AssetID) (int, error) {
	res, err := s.ds.Query(ctx, dsq.Query{
		Prefix:   assetKey(id).String(),
		KeysOnly: true,
	})
	if err != nil {
		return 0, fmt.Errorf("querying entries: %v", err)
	}
	keys, err := res.Rest()
	if err != nil {
		return 0, fmt.Errorf("iterating entries: %v", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	b, err := s.ds.Batch(ctx)
	if err != nil {
		return 0, fmt.Errorf("creating batch: %v", err)
	}
	for _, k := range keys {
		if err := b.Delete(ctx, ds.NewKey(k.Key)); err != nil && !errors.Is(err, ds.ErrNotFound) {
			return 0, fmt.Errorf("deleting entry: %v", err)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %v", err)
	}
	return len(keys), nil
}

// assetKey expects an id that passed auction.AssetID.Validate.
func assetKey(id auction.AssetID) ds.Key {
	return dsPrefix.ChildString(string(id))
}

func entryKey(id auction.AssetID, collection, bidder common.Address) ds.Key {
	return assetKey(id).ChildString(addrString(collection)).ChildString(addrString(bidder))
}

func addrString(a common.Address) string {
	return strings.ToLower(a.Hex())
}
