// Package util holds HTTP helpers shared by the daemons and their clients.
package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
)

var log = golog.Logger("util")

// maxBodySize bounds request and error bodies.
const maxBodySize = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusOf maps an error to its HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, auction.ErrMalformedVoucher),
		errors.Is(err, auction.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, auction.ErrInvalidSignature),
		errors.Is(err, auction.ErrVoucherMismatch),
		errors.Is(err, auction.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrAlreadyActive),
		errors.Is(err, auction.ErrNotActive),
		errors.Is(err, auction.ErrCannotCancel):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError writes err as an ErrorResponse with its mapped status.
func HTTPError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusOf(err), ErrorResponse{Error: err.Error(), Kind: auction.Kind(err)})
}

// WriteJSON writes v as the JSON body of a response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

// ReadJSON decodes a request body into v. Decoding failures wrap auction.ErrInvalidArgument
// unless v reports a more specific error.
func ReadJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if auction.Kind(err) != "internal" {
			return err
		}
		return fmt.Errorf("decoding body: %v: %w", err, auction.ErrInvalidArgument)
	}
	return nil
}

// DecodeError restores the error carried by a failed response. Known kinds unwrap to the
// matching auction sentinel.
func DecodeError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		return fmt.Errorf("http status %d: %s", res.StatusCode, string(body))
	}
	if sentinel := auction.FromKind(er.Kind); sentinel != nil {
		return fmt.Errorf("%s: %w", er.Error, sentinel)
	}
	return fmt.Errorf("http status %d: %s", res.StatusCode, er.Error)
}

// TokenSource returns the bearer token attached to outgoing requests.
type TokenSource func() (string, error)

// BearerTransport attaches a bearer token to every request.
type BearerTransport struct {
	Token TokenSource
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *BearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Token == nil {
		return base.RoundTrip(r)
	}
	token, err := t.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %v", err)
	}
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(r)
}
