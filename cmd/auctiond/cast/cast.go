// Package cast converts auction models to and from their JSON wire form.
package cast

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/voucher"
)

// Record is the wire form of auction.Record.
type Record struct {
	NFT             string    `json:"nft"`
	AssetID         string    `json:"assetId"`
	Round           uint64    `json:"round"`
	Seller          string    `json:"seller"`
	FloorPrice      string    `json:"floorPrice"`
	Deadline        time.Time `json:"deadline"`
	Status          string    `json:"status"`
	State           string    `json:"state"`
	IsActive        bool      `json:"isActive"`
	IsCancelled     bool      `json:"isCancelled"`
	HighestBidder   string    `json:"highestBidder,omitempty"`
	HighestBidPrice string    `json:"highestBidPrice,omitempty"`
	PickedAt        time.Time `json:"pickedAt,omitempty"`
	TokenID         string    `json:"tokenId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CreateRequest is the body of an auction creation. Deadline takes precedence over
// Duration, expressed in seconds.
type CreateRequest struct {
	NFT        string    `json:"nft"`
	AssetID    string    `json:"assetId"`
	Seller     string    `json:"seller,omitempty"`
	FloorPrice string    `json:"floorPrice"`
	Deadline   time.Time `json:"deadline,omitempty"`
	Duration   int64     `json:"duration,omitempty"`
}

// PickRequest is the body of a winner pick.
type PickRequest struct {
	Amount string `json:"amount"`
	Bidder string `json:"bidder"`
}

// RedeemRequest is the body of a redemption.
type RedeemRequest struct {
	Voucher voucher.Voucher `json:"voucher"`
	Payment string          `json:"payment"`
}

// Receipt is the wire form of auction.Receipt.
type Receipt struct {
	ID            string    `json:"id"`
	NFT           string    `json:"nft"`
	AssetID       string    `json:"assetId"`
	Round         uint64    `json:"round"`
	TokenID       string    `json:"tokenId"`
	Bidder        string    `json:"bidder"`
	Seller        string    `json:"seller"`
	Price         string    `json:"price"`
	Payment       string    `json:"payment"`
	RedeemedAt    time.Time `json:"redeemedAt"`
	LedgerCleared bool      `json:"ledgerCleared"`
}

// Ownership is the wire form of auction.Ownership.
type Ownership struct {
	NFT      string    `json:"nft"`
	AssetID  string    `json:"assetId"`
	TokenID  string    `json:"tokenId"`
	Owner    string    `json:"owner"`
	URI      string    `json:"uri"`
	MintedAt time.Time `json:"mintedAt"`
}

// Administrator answers an administrator lookup.
type Administrator struct {
	Address       string `json:"address"`
	Administrator bool   `json:"administrator"`
}

// AddAdministratorRequest is the body of an administrator addition.
type AddAdministratorRequest struct {
	Address string `json:"address"`
}

// RecordToJSON returns the wire form of a record observed at now.
func RecordToJSON(r auction.Record, now time.Time) Record {
	state := r.State(now)
	rj := Record{
		NFT:         r.Collection.Hex(),
		AssetID:     string(r.AssetID),
		Round:       r.Round,
		Seller:      r.Seller.Hex(),
		FloorPrice:  amountString(r.FloorPrice),
		Deadline:    r.Deadline,
		Status:      r.Status.String(),
		State:       state.String(),
		IsActive:    state == auction.StatusActive,
		IsCancelled: r.Status == auction.StatusCancelled,
		PickedAt:    r.PickedAt,
		TokenID:     amountString(r.TokenID),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.HasWinner() {
		rj.HighestBidder = r.HighestBidder.Hex()
		rj.HighestBidPrice = amountString(r.HighestBidPrice)
	}
	return rj
}

// RecordFromJSON returns the record of its wire form.
func RecordFromJSON(rj Record) (auction.Record, error) {
	status, err := auction.StatusByString(rj.Status)
	if err != nil {
		return auction.Record{}, err
	}
	r := auction.Record{
		AssetID:   auction.AssetID(rj.AssetID),
		Round:     rj.Round,
		Deadline:  rj.Deadline,
		Status:    status,
		PickedAt:  rj.PickedAt,
		CreatedAt: rj.CreatedAt,
		UpdatedAt: rj.UpdatedAt,
	}
	if r.Collection, err = ParseAddress("nft", rj.NFT); err != nil {
		return auction.Record{}, err
	}
	if r.Seller, err = ParseAddress("seller", rj.Seller); err != nil {
		return auction.Record{}, err
	}
	if r.FloorPrice, err = voucher.ParseAmount(rj.FloorPrice); err != nil {
		return auction.Record{}, fmt.Errorf("floor price: %v", err)
	}
	if rj.HighestBidder != "" {
		if r.HighestBidder, err = ParseAddress("highest bidder", rj.HighestBidder); err != nil {
			return auction.Record{}, err
		}
		if r.HighestBidPrice, err = voucher.ParseAmount(rj.HighestBidPrice); err != nil {
			return auction.Record{}, fmt.Errorf("highest bid price: %v", err)
		}
	}
	if rj.TokenID != "" {
		if r.TokenID, err = voucher.ParseAmount(rj.TokenID); err != nil {
			return auction.Record{}, fmt.Errorf("token id: %v", err)
		}
	}
	return r, nil
}

// CreateParamsFromJSON validates a creation request.
func CreateParamsFromJSON(req CreateRequest, now time.Time) (auction.CreateParams, error) {
	p := auction.CreateParams{AssetID: auction.AssetID(req.AssetID)}
	var err error
	if p.Collection, err = ParseAddress("nft", req.NFT); err != nil {
		return auction.CreateParams{}, err
	}
	if req.Seller != "" {
		if p.Seller, err = ParseAddress("seller", req.Seller); err != nil {
			return auction.CreateParams{}, err
		}
	}
	if p.FloorPrice, err = voucher.ParseAmount(req.FloorPrice); err != nil {
		return auction.CreateParams{}, fmt.Errorf("floor price: %v: %w", err, auction.ErrInvalidArgument)
	}
	switch {
	case !req.Deadline.IsZero():
		p.Deadline = req.Deadline
	case req.Duration > 0:
		p.Deadline = now.Add(time.Duration(req.Duration) * time.Second)
	default:
		return auction.CreateParams{}, fmt.Errorf("deadline or duration is required: %w", auction.ErrInvalidArgument)
	}
	return p, nil
}

// ReceiptToJSON returns the wire form of a receipt.
func ReceiptToJSON(r auction.Receipt) Receipt {
	return Receipt{
		ID:            r.ID,
		NFT:           r.Collection.Hex(),
		AssetID:       string(r.AssetID),
		Round:         r.Round,
		TokenID:       amountString(r.TokenID),
		Bidder:        r.Bidder.Hex(),
		Seller:        r.Seller.Hex(),
		Price:         amountString(r.Price),
		Payment:       amountString(r.Payment),
		RedeemedAt:    r.RedeemedAt,
		LedgerCleared: r.LedgerCleared,
	}
}

// ReceiptFromJSON returns the receipt of its wire form.
func ReceiptFromJSON(rj Receipt) (auction.Receipt, error) {
	r := auction.Receipt{
		ID:            rj.ID,
		AssetID:       auction.AssetID(rj.AssetID),
		Round:         rj.Round,
		RedeemedAt:    rj.RedeemedAt,
		LedgerCleared: rj.LedgerCleared,
	}
	var err error
	if r.Collection, err = ParseAddress("nft", rj.NFT); err != nil {
		return auction.Receipt{}, err
	}
	if r.Bidder, err = ParseAddress("bidder", rj.Bidder); err != nil {
		return auction.Receipt{}, err
	}
	if r.Seller, err = ParseAddress("seller", rj.Seller); err != nil {
		return auction.Receipt{}, err
	}
	for _, a := range []struct {
		name string
		dst  **big.Int
		src  string
	}{
		{"token id", &r.TokenID, rj.TokenID},
		{"price", &r.Price, rj.Price},
		{"payment", &r.Payment, rj.Payment},
	} {
		if *a.dst, err = voucher.ParseAmount(a.src); err != nil {
			return auction.Receipt{}, fmt.Errorf("%s: %v", a.name, err)
		}
	}
	return r, nil
}

// OwnershipToJSON returns the wire form of an ownership.
func OwnershipToJSON(o auction.Ownership) Ownership {
	return Ownership{
		NFT:      o.Collection.Hex(),
		AssetID:  string(o.AssetID),
		TokenID:  amountString(o.TokenID),
		Owner:    o.Owner.Hex(),
		URI:      o.URI,
		MintedAt: o.MintedAt,
	}
}

// OwnershipFromJSON returns the ownership of its wire form.
func OwnershipFromJSON(oj Ownership) (auction.Ownership, error) {
	o := auction.Ownership{AssetID: auction.AssetID(oj.AssetID), URI: oj.URI, MintedAt: oj.MintedAt}
	var err error
	if o.Collection, err = ParseAddress("nft", oj.NFT); err != nil {
		return auction.Ownership{}, err
	}
	if o.Owner, err = ParseAddress("owner", oj.Owner); err != nil {
		return auction.Ownership{}, err
	}
	if o.TokenID, err = voucher.ParseAmount(oj.TokenID); err != nil {
		return auction.Ownership{}, fmt.Errorf("token id: %v", err)
	}
	return o, nil
}

// ParseAddress parses a hex address, wrapping failures with auction.ErrInvalidArgument.
func ParseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s %q is not an address: %w", name, s, auction.ErrInvalidArgument)
	}
	return common.HexToAddress(s), nil
}

func amountString(a *big.Int) string {
	if a == nil {
		return ""
	}
	return a.String()
}
