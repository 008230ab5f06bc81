package auction

import (
	"errors"

	"github.com/textileio/lazyauction/voucher"
)

var (
	// ErrMalformedVoucher indicates a voucher with missing or out of range fields.
	ErrMalformedVoucher = voucher.ErrMalformedVoucher
	// ErrInvalidSignature indicates a voucher signature that does not recover to the claimed bidder.
	ErrInvalidSignature = voucher.ErrInvalidSignature
	// ErrSigningFailed indicates the signer could not produce a signature.
	ErrSigningFailed = voucher.ErrSigningFailed

	// ErrVoucherMismatch indicates a valid voucher that is not the picked winning bid.
	ErrVoucherMismatch = errors.New("voucher does not match the picked winning bid")
	// ErrInsufficientPayment indicates a payment lower than the voucher bid price.
	ErrInsufficientPayment = errors.New("insufficient funds to redeem")
	// ErrAlreadyActive indicates an auction already running for the asset.
	ErrAlreadyActive = errors.New("auction already active")
	// ErrNotActive indicates the auction is not in a state that allows the operation.
	ErrNotActive = errors.New("auction not active")
	// ErrNotFound indicates the auction does not exist.
	ErrNotFound = errors.New("auction not found")
	// ErrCannotCancel indicates the auction already has a picked winner.
	ErrCannotCancel = errors.New("auction cannot be cancelled")
	// ErrUnauthorized indicates the caller is neither the seller nor an administrator.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected indicates a bid below the floor or the current highest price.
	ErrRejected = errors.New("bid rejected")
	// ErrInvalidArgument indicates a request with invalid parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// kinds is ordered from most to least specific so Kind picks the narrowest match.
var kinds = []struct {
	name string
	err  error
}{
	{"malformed_voucher", ErrMalformedVoucher},
	{"invalid_signature", ErrInvalidSignature},
	{"signing_failed", ErrSigningFailed},
	{"voucher_mismatch", ErrVoucherMismatch},
	{"insufficient_payment", ErrInsufficientPayment},
	{"already_active", ErrAlreadyActive},
	{"not_active", ErrNotActive},
	{"not_found", ErrNotFound},
	{"cannot_cancel", ErrCannotCancel},
	{"unauthorized", ErrUnauthorized},
	{"rejected", ErrRejected},
	{"invalid_argument", ErrInvalidArgument},
}

// Kind returns the name of the error kind wrapped by err, or "internal".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// FromKind returns the sentinel error for a kind name, or nil if the kind is unknown.
func FromKind(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}
