// Package voucher implements signed bid vouchers for lazily minted assets.
//
// A voucher binds a bid price to an asset and its metadata URI. It is signed by the bidder
// over an EIP-712 typed digest, so anyone can recover the bidder address from the voucher
// without the bidder being online, and any change to a field invalidates the signature.
package voucher

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	// ErrMalformedVoucher indicates missing or out of range voucher fields.
	ErrMalformedVoucher = errors.New("malformed voucher")
	// ErrInvalidSignature indicates a signature that does not recover to the claimed signer.
	ErrInvalidSignature = errors.New("signature invalid or unauthorized")
	// ErrSigningFailed indicates the signer key is unavailable or failed to sign.
	ErrSigningFailed = errors.New("signing failed")
)

// Voucher is a bidder-signed claim over an asset and a bid price.
type Voucher struct {
	// AssetID is the opaque asset identifier, usually the asset CID.
	AssetID string
	// BidPrice is the bid in the smallest currency unit.
	BidPrice *big.Int
	// URI is the asset metadata URI that will be minted.
	URI string
	// Signature is the 65 byte [R || S || V] signature with V in {27, 28}.
	Signature []byte
}

type wireVoucher struct {
	AuctionID string `json:"auctionId"`
	BidPrice  string `json:"bidPrice"`
	URI       string `json:"uri"`
	Signature string `json:"signature"`
}

// MarshalJSON encodes the voucher with a decimal bid price and a hex signature.
func (v Voucher) MarshalJSON() ([]byte, error) {
	w := wireVoucher{
		AuctionID: v.AssetID,
		URI:       v.URI,
		Signature: hexutil.Encode(v.Signature),
	}
	if v.BidPrice != nil {
		w.BidPrice = v.BidPrice.String()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a voucher. Field validation is left to the codec.
func (v *Voucher) UnmarshalJSON(data []byte) error {
	var w wireVoucher
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	price, err := ParseAmount(w.BidPrice)
	if err != nil {
		return fmt.Errorf("bid price: %w", err)
	}
	var sig []byte
	if w.Signature != "" {
		if sig, err = hexutil.Decode(w.Signature); err != nil {
			return fmt.Errorf("decoding signature: %v: %w", err, ErrMalformedVoucher)
		}
	}
	*v = Voucher{
		AssetID:   w.AuctionID,
		BidPrice:  price,
		URI:       w.URI,
		Signature: sig,
	}
	return nil
}

// SignatureHex returns the 0x prefixed signature.
func (v Voucher) SignatureHex() string {
	return hexutil.Encode(v.Signature)
}

// MaxAmount is the largest amount representable as an unsigned 256-bit integer.
var MaxAmount = math.MaxBig256

// ValidAmount returns true if a is a positive unsigned 256-bit integer.
func ValidAmount(a *big.Int) bool {
	return a != nil && a.Sign() > 0 && a.Cmp(MaxAmount) <= 0
}

// ParseAmount parses a decimal string in the smallest currency unit.
// Negative values, fractions and values above 2^256-1 are rejected.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is empty: %w", ErrMalformedVoucher)
	}
	a, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer: %w", s, ErrMalformedVoucher)
	}
	if a.Sign() < 0 || a.Cmp(MaxAmount) > 0 {
		return nil, fmt.Errorf("amount %q out of range: %w", s, ErrMalformedVoucher)
	}
	return a, nil
}
