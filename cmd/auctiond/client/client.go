// Package client is an HTTP client of the auction daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/cast"
	"github.com/textileio/lazyauction/util"
	"github.com/textileio/lazyauction/voucher"
)

// Client talks to an auction daemon. Mutating calls carry the token of its TokenSource;
// the caller argument of auction.Authority methods is informational, the daemon trusts
// the token only.
type Client struct {
	baseURL string
	c       *http.Client
}

var _ auction.Authority = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTokenSource attaches bearer tokens to requests.
func WithTokenSource(ts util.TokenSource) Option {
	return func(c *Client) {
		c.c.Transport = &util.BearerTransport{Token: ts, Base: c.c.Transport}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.c.Timeout = d
	}
}

// New returns a new Client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		c:       &http.Client{Timeout: time.Second * 30},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTokenAuction starts a new auction round.
func (c *Client) CreateTokenAuction(ctx context.Context, _ common.Address, p auction.CreateParams) (auction.Record, error) {
	req := cast.CreateRequest{
		NFT:        p.Collection.Hex(),
		AssetID:    string(p.AssetID),
		Deadline:   p.Deadline,
		FloorPrice: amountString(p.FloorPrice),
	}
	if p.Seller != (common.Address{}) {
		req.Seller = p.Seller.Hex()
	}
	var rj cast.Record
	if err := c.do(ctx, http.MethodPost, "/auctions", req, &rj); err != nil {
		return auction.Record{}, err
	}
	return cast.RecordFromJSON(rj)
}

// GetTokenAuctionDetails returns the current auction record.
func (c *Client) GetTokenAuctionDetails(ctx context.Context, key auction.Key) (auction.Record, error) {
	var rj cast.Record
	if err := c.do(ctx, http.MethodGet, auctionPath(key), nil, &rj); err != nil {
		return auction.Record{}, err
	}
	return cast.RecordFromJSON(rj)
}

// ListRounds returns every round of an auction, oldest first.
func (c *Client) ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error) {
	var rjs []cast.Record
	if err := c.do(ctx, http.MethodGet, auctionPath(key)+"/rounds", nil, &rjs); err != nil {
		return nil, err
	}
	recs := make([]auction.Record, len(rjs))
	for i, rj := range rjs {
		rec, err := cast.RecordFromJSON(rj)
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}
	return recs, nil
}

// PickAsWinner records the winning bid.
func (c *Client) PickAsWinner(
	ctx context.Context,
	_ common.Address,
	key auction.Key,
	amount *big.Int,
	bidder common.Address,
) (auction.Record, error) {
	var rj cast.Record
	req := cast.PickRequest{Amount: amountString(amount), Bidder: bidder.Hex()}
	if err := c.do(ctx, http.MethodPost, auctionPath(key)+"/winner", req, &rj); err != nil {
		return auction.Record{}, err
	}
	return cast.RecordFromJSON(rj)
}

// CancelAuction cancels an auction with no winner.
func (c *Client) CancelAuction(ctx context.Context, _ common.Address, key auction.Key) (auction.Record, error) {
	var rj cast.Record
	if err := c.do(ctx, http.MethodPost, auctionPath(key)+"/cancel", nil, &rj); err != nil {
		return auction.Record{}, err
	}
	return cast.RecordFromJSON(rj)
}

// Redeem settles the winning voucher.
func (c *Client) Redeem(ctx context.Context, key auction.Key, v voucher.Voucher, payment *big.Int) (auction.Receipt, error) {
	var rj cast.Receipt
	req := cast.RedeemRequest{Voucher: v, Payment: amountString(payment)}
	if err := c.do(ctx, http.MethodPost, auctionPath(key)+"/redeem", req, &rj); err != nil {
		return auction.Receipt{}, err
	}
	return cast.ReceiptFromJSON(rj)
}

// GetOwnership returns the minted ownership of an asset.
func (c *Client) GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error) {
	var oj cast.Ownership
	if err := c.do(ctx, http.MethodGet, "/owners/"+keyPath(key), nil, &oj); err != nil {
		return auction.Ownership{}, err
	}
	return cast.OwnershipFromJSON(oj)
}

// Administrators returns true if addr is an administrator.
func (c *Client) Administrators(ctx context.Context, addr common.Address) (bool, error) {
	var res cast.Administrator
	if err := c.do(ctx, http.MethodGet, "/administrators/"+addr.Hex(), nil, &res); err != nil {
		return false, err
	}
	return res.Administrator, nil
}

// AddAdministrator adds addr to the administrator set.
func (c *Client) AddAdministrator(ctx context.Context, _ common.Address, addr common.Address) error {
	return c.do(ctx, http.MethodPost, "/administrators", cast.AddAdministratorRequest{Address: addr.Hex()}, nil)
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
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %v", err)
	}
	return nil
}

func keyPath(key auction.Key) string {
	return key.Collection.Hex() + "/" + url.PathEscape(string(key.AssetID))
}

func auctionPath(key auction.Key) string {
	return "/auctions/" + keyPath(key)
}

func amountString(a *big.Int) string {
	if a == nil {
		return ""
	}
	return a.String()
}
