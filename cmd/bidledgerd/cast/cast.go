// Package cast converts ledger entries to and from their JSON wire form.
package cast

import (
	"fmt"
	"time"

	"github.com/textileio/lazyauction/auction"
	acast "github.com/textileio/lazyauction/cmd/auctiond/cast"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	"github.com/textileio/lazyauction/voucher"
)

// SubmitRequest is the body of a bid submission. ID is the asset id and Hash the hex
// encoded voucher signature.
type SubmitRequest struct {
	ID      string          `json:"id"`
	Hash    string          `json:"hash"`
	NFT     string          `json:"nft"`
	Bidder  string          `json:"bidder"`
	Amount  string          `json:"amount"`
	Voucher voucher.Voucher `json:"voucher"`
}

// Entry is the wire form of ledger.Entry.
type Entry struct {
	EntryID     string          `json:"entryId"`
	ID          string          `json:"id"`
	Hash        string          `json:"hash"`
	NFT         string          `json:"nft"`
	Bidder      string          `json:"bidder"`
	Amount      string          `json:"amount"`
	Voucher     voucher.Voucher `json:"voucher"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// ClearRequest is the body of a clear.
type ClearRequest struct {
	ID string `json:"id"`
}

// ClearResponse reports how many bids a clear removed.
type ClearResponse struct {
	Cleared int `json:"cleared"`
}

// SubmitRequestFromJSON parses a bid submission.
func SubmitRequestFromJSON(r SubmitRequest) (ledger.SubmitRequest, error) {
	collection, err := acast.ParseAddress("nft", r.NFT)
	if err != nil {
		return ledger.SubmitRequest{}, err
	}
	bidder, err := acast.ParseAddress("bidder", r.Bidder)
	if err != nil {
		return ledger.SubmitRequest{}, err
	}
	amount, err := voucher.ParseAmount(r.Amount)
	if err != nil {
		return ledger.SubmitRequest{}, fmt.Errorf("amount: %w", err)
	}
	return ledger.SubmitRequest{
		AssetID:    auction.AssetID(r.ID),
		Collection: collection,
		Bidder:     bidder,
		Amount:     amount,
		Hash:       r.Hash,
		Voucher:    r.Voucher,
	}, nil
}

// SubmitRequestToJSON returns the wire form of a bid submission.
func SubmitRequestToJSON(r ledger.SubmitRequest) SubmitRequest {
	res := SubmitRequest{
		ID:      string(r.AssetID),
		Hash:    r.Hash,
		NFT:     r.Collection.Hex(),
		Bidder:  r.Bidder.Hex(),
		Voucher: r.Voucher,
	}
	if r.Amount != nil {
		res.Amount = r.Amount.String()
	}
	return res
}

// EntryToJSON returns the wire form of an entry.
func EntryToJSON(e ledger.Entry) Entry {
	res := Entry{
		EntryID:     e.ID,
		ID:          string(e.AssetID),
		Hash:        e.Hash,
		NFT:         e.Collection.Hex(),
		Bidder:      e.Bidder.Hex(),
		Voucher:     e.Voucher,
		SubmittedAt: e.SubmittedAt,
	}
	if e.Amount != nil {
		res.Amount = e.Amount.String()
	}
	return res
}

// EntryFromJSON parses the wire form of an entry.
func EntryFromJSON(e Entry) (ledger.Entry, error) {
	r, err := SubmitRequestFromJSON(SubmitRequest{
		ID:      e.ID,
		Hash:    e.Hash,
		NFT:     e.NFT,
		Bidder:  e.Bidder,
		Amount:  e.Amount,
		Voucher: e.Voucher,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		ID:          e.EntryID,
		AssetID:     r.AssetID,
		Collection:  r.Collection,
		Bidder:      r.Bidder,
		Amount:      r.Amount,
		Hash:        r.Hash,
		Voucher:     r.Voucher,
		SubmittedAt: e.SubmittedAt,
	}, nil
}
