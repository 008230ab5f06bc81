package auctioneer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/store/dsstore"
	"github.com/textileio/lazyauction/sempool"
)

var (
	admin      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	seller     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bidderA    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	bidderB    = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	stranger   = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	collection = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	key        = auction.Key{Collection: collection, AssetID: "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"}
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Clear(ctx context.Context, id auction.AssetID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type clock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

func TestCreateTokenAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)

	rec, err := a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)
	assert.Equal(t, seller, rec.Seller)
	assert.Equal(t, uint64(1), rec.Round)
	assert.Equal(t, auction.StatusActive, rec.Status)
	assert.False(t, rec.HasWinner())

	got, err := a.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, rec.Round, got.Round)
	assert.Equal(t, "100", got.FloorPrice.String())

	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.ErrorIs(t, err, auction.ErrAlreadyActive)

	// Ended auctions still block a new round until settled or cancelled.
	clk.Advance(2 * time.Hour)
	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.ErrorIs(t, err, auction.ErrAlreadyActive)
}

func TestCreateTokenAuctionErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)

	p := params(clk)
	p.FloorPrice = big.NewInt(0)
	_, err := a.CreateTokenAuction(ctx, seller, p)
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	p = params(clk)
	p.Deadline = clk.Now()
	_, err = a.CreateTokenAuction(ctx, seller, p)
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	p = params(clk)
	p.AssetID = ""
	_, err = a.CreateTokenAuction(ctx, seller, p)
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	// Only administrators act on behalf of another seller.
	p = params(clk)
	p.Seller = seller
	_, err = a.CreateTokenAuction(ctx, stranger, p)
	require.ErrorIs(t, err, auction.ErrUnauthorized)

	rec, err := a.CreateTokenAuction(ctx, admin, p)
	require.NoError(t, err)
	assert.Equal(t, seller, rec.Seller)

	_, err = a.GetTokenAuctionDetails(ctx, auction.Key{Collection: collection, AssetID: "missing"})
	require.ErrorIs(t, err, auction.ErrNotFound)
}

func TestPickAsWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)
	_, err := a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)

	// Below floor.
	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(50), bidderA)
	require.ErrorIs(t, err, auction.ErrRejected)

	rec, err := a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderA)
	require.NoError(t, err)
	assert.Equal(t, bidderA, rec.HighestBidder)
	assert.Equal(t, "100", rec.HighestBidPrice.String())

	// Same bidder, same price.
	rec, err = a.PickAsWinner(ctx, admin, key, big.NewInt(100), bidderA)
	require.NoError(t, err)
	assert.Equal(t, bidderA, rec.HighestBidder)

	// First pick at a price wins.
	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderB)
	require.ErrorIs(t, err, auction.ErrRejected)

	rec, err = a.PickAsWinner(ctx, seller, key, big.NewInt(150), bidderB)
	require.NoError(t, err)
	assert.Equal(t, bidderB, rec.HighestBidder)

	// The highest price never decreases.
	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(120), bidderA)
	require.ErrorIs(t, err, auction.ErrRejected)

	got, err := a.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, bidderB, got.HighestBidder)
	assert.Equal(t, "150", got.HighestBidPrice.String())
}

func TestPickAsWinnerAuthorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)

	// Unknown auctions are not disclosed to non-administrators.
	_, err := a.PickAsWinner(ctx, stranger, key, big.NewInt(100), bidderA)
	require.ErrorIs(t, err, auction.ErrUnauthorized)
	_, err = a.PickAsWinner(ctx, admin, key, big.NewInt(100), bidderA)
	require.ErrorIs(t, err, auction.ErrNotFound)

	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)
	_, err = a.PickAsWinner(ctx, stranger, key, big.NewInt(100), bidderA)
	require.ErrorIs(t, err, auction.ErrUnauthorized)

	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(100), common.Address{})
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	rec, err := a.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.False(t, rec.HasWinner())
}

func TestPickPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("grace", func(t *testing.T) {
		t.Parallel()
		a, clk := newAuctioneer(t, PickGrace)
		_, err := a.CreateTokenAuction(ctx, seller, params(clk))
		require.NoError(t, err)
		clk.Advance(2 * time.Hour)

		rec, err := a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderA)
		require.NoError(t, err)
		assert.Equal(t, auction.StatusEnded, rec.State(clk.Now()))
		assert.Equal(t, bidderA, rec.HighestBidder)
	})
	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		a, clk := newAuctioneer(t, PickStrict)
		_, err := a.CreateTokenAuction(ctx, seller, params(clk))
		require.NoError(t, err)
		_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderA)
		require.NoError(t, err)
		clk.Advance(2 * time.Hour)

		_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(200), bidderB)
		require.ErrorIs(t, err, auction.ErrNotActive)
	})
}

func TestCancelAuction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)
	_, err := a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)

	// Neither administrator nor seller.
	_, err = a.CancelAuction(ctx, stranger, key)
	require.ErrorIs(t, err, auction.ErrUnauthorized)
	rec, err := a.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, rec.Status)

	rec, err = a.CancelAuction(ctx, seller, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusCancelled, rec.Status)

	_, err = a.CancelAuction(ctx, seller, key)
	require.ErrorIs(t, err, auction.ErrNotActive)
	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderA)
	require.ErrorIs(t, err, auction.ErrNotActive)

	// A cancelled auction may start a fresh round.
	rec, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Round)
	assert.False(t, rec.HasWinner())

	_, err = a.PickAsWinner(ctx, seller, key, big.NewInt(100), bidderA)
	require.NoError(t, err)
	_, err = a.CancelAuction(ctx, admin, key)
	require.ErrorIs(t, err, auction.ErrCannotCancel)
}

func TestCancelAuctionClearsLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := &mockLedger{}
	a, clk := newAuctioneerWithLedger(t, l)
	_, err := a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)

	// A refused cancellation leaves the ledger alone.
	_, err = a.CancelAuction(ctx, stranger, key)
	require.ErrorIs(t, err, auction.ErrUnauthorized)
	l.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything)

	l.On("Clear", mock.Anything, key.AssetID).Return(2, nil).Once()
	_, err = a.CancelAuction(ctx, seller, key)
	require.NoError(t, err)
	l.AssertExpectations(t)

	// A ledger failure does not undo the cancellation.
	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)
	l.On("Clear", mock.Anything, key.AssetID).Return(0, errors.New("connection refused")).Once()
	rec, err := a.CancelAuction(ctx, seller, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusCancelled, rec.Status)
	l.AssertNumberOfCalls(t, "Clear", 2)
}

func TestListRounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)

	_, err := a.ListRounds(ctx, key)
	require.ErrorIs(t, err, auction.ErrNotFound)
	_, err = a.ListRounds(ctx, auction.Key{Collection: collection, AssetID: ".."})
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)
	_, err = a.CancelAuction(ctx, seller, key)
	require.NoError(t, err)
	_, err = a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)

	rounds, err := a.ListRounds(ctx, key)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint64(1), rounds[0].Round)
	assert.Equal(t, auction.StatusCancelled, rounds[0].Status)
	assert.Equal(t, uint64(2), rounds[1].Round)
	assert.Equal(t, auction.StatusActive, rounds[1].Status)
}

func TestAdministrators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, _ := newAuctioneer(t, PickGrace)

	ok, err := a.Administrators(ctx, admin)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.Administrators(ctx, seller)
	require.NoError(t, err)
	require.False(t, ok)

	err = a.AddAdministrator(ctx, seller, stranger)
	require.ErrorIs(t, err, auction.ErrUnauthorized)
	err = a.AddAdministrator(ctx, admin, common.Address{})
	require.ErrorIs(t, err, auction.ErrInvalidArgument)

	require.NoError(t, a.AddAdministrator(ctx, admin, seller))
	ok, err = a.Administrators(ctx, seller)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.AddAdministrator(ctx, seller, stranger))
}

func TestConcurrentPicks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, clk := newAuctioneer(t, PickGrace)
	_, err := a.CreateTokenAuction(ctx, seller, params(clk))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := bidderA
			if i%2 == 0 {
				bidder = bidderB
			}
			_, err := a.PickAsWinner(ctx, seller, key, big.NewInt(int64(100+i)), bidder)
			if err != nil && !assert.ErrorIs(t, err, auction.ErrRejected) {
				return
			}
		}(i)
	}
	wg.Wait()

	rec, err := a.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "150", rec.HighestBidPrice.String())
	assert.Equal(t, bidderB, rec.HighestBidder)
}

func TestPickPolicyByString(t *testing.T) {
	t.Parallel()
	p, err := PickPolicyByString("strict")
	require.NoError(t, err)
	require.Equal(t, PickStrict, p)
	p, err = PickPolicyByString("")
	require.NoError(t, err)
	require.Equal(t, PickGrace, p)
	_, err = PickPolicyByString("lenient")
	require.Error(t, err)
}

func newAuctioneer(t *testing.T, policy PickPolicy) (*Auctioneer, *clock) {
	clk := &clock{now: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := dsstore.New(dssync.MutexWrap(ds.NewMapDatastore()))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	a, err := New(context.Background(), s, sempool.NewSemaphorePool(1), Config{
		BootstrapAdmin: admin,
		PickPolicy:     policy,
		Now:            clk.Now,
	})
	require.NoError(t, err)
	return a, clk
}

func newAuctioneerWithLedger(t *testing.T, l auction.LedgerClearer) (*Auctioneer, *clock) {
	clk := &clock{now: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := dsstore.New(dssync.MutexWrap(ds.NewMapDatastore()))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	a, err := New(context.Background(), s, sempool.NewSemaphorePool(1), Config{
		BootstrapAdmin: admin,
		Ledger:         l,
		ClearTimeout:   time.Second,
		Now:            clk.Now,
	})
	require.NoError(t, err)
	return a, clk
}

func params(clk *clock) auction.CreateParams {
	return auction.CreateParams{
		Collection: key.Collection,
		AssetID:    key.AssetID,
		FloorPrice: big.NewInt(100),
		Deadline:   clk.Now().Add(time.Hour),
	}
}
