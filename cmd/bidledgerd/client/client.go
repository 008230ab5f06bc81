// Package client is an HTTP client of the bid ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/bidledgerd/cast"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	"github.com/textileio/lazyauction/util"
)

var log = golog.Logger("bidledger/client")

// Client talks to a bid ledger.
type Client struct {
	baseURL string
	c       *http.Client
}

var _ auction.LedgerClearer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.c.Timeout = d
		}
	}
}

// New returns a new Client for the ledger at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		c:       &http.Client{Timeout: time.Second * 10},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit records a bid.
func (c *Client) Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.Entry, error) {
	var ej cast.Entry
	if err := c.do(ctx, http.MethodPost, "/", cast.SubmitRequestToJSON(req), &ej); err != nil {
		return ledger.Entry{}, err
	}
	return cast.EntryFromJSON(ej)
}

// Query returns the latest bid of every bidder for an asset, restricted to collection
// unless it is zero.
func (c *Client) Query(ctx context.Context, id auction.AssetID, collection common.Address) (map[common.Address]ledger.Entry, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	path := "/" + url.PathEscape(string(id))
	if collection != (common.Address{}) {
		path += "?" + url.Values{"nft": {collection.Hex()}}.Encode()
	}
	var res map[string]cast.Entry
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	entries := make(map[common.Address]ledger.Entry, len(res))
	for _, ej := range res {
		e, err := cast.EntryFromJSON(ej)
		if err != nil {
			return nil, fmt.Errorf("parsing entry %s: %v", ej.EntryID, err)
		}
		entries[e.Bidder] = e
	}
	return entries, nil
}

// Clear removes every bid for an asset and returns how many were removed.
func (c *Client) Clear(ctx context.Context, id auction.AssetID) (int, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}
	var res cast.ClearResponse
	if err := c.do(ctx, http.MethodPost, "/clearAddress", cast.ClearRequest{ID: string(id)}, &res); err != nil {
		return 0, err
	}
	log.Debugf("ledger cleared %d bids for %s", res.Cleared, id)
	return res.Cleared, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.c.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= http.StatusBadRequest {
		return util.DecodeError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %v", err)
	}
	return nil
}
