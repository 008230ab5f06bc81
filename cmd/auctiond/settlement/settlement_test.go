package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/auctioneer"
	"github.com/textileio/lazyauction/cmd/auctiond/store/dsstore"
	"github.com/textileio/lazyauction/sempool"
	"github.com/textileio/lazyauction/voucher"
)

const (
	assetID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	uri     = "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
)

var (
	admin      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	seller     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	stranger   = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	collection = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	key        = auction.Key{Collection: collection, AssetID: assetID}
	codec      = voucher.NewCodec(voucher.DefaultDomainName, voucher.DefaultDomainVersion, big.NewInt(31337))
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Clear(ctx context.Context, id auction.AssetID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type env struct {
	auctioneer *auctioneer.Auctioneer
	engine     *Engine
	ledger     *mockLedger
}

// Scenario A: a bid below the floor is never picked.
func TestPickBelowFloor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 50)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.ErrorIs(t, err, auction.ErrRejected)

	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(50))
	require.ErrorIs(t, err, auction.ErrNotActive)
}

// Scenario B: the picked voucher is redeemed with exact payment.
func TestRedeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.NoError(t, err)

	e.ledger.On("Clear", mock.Anything, auction.AssetID(assetID)).Return(3, nil).Once()
	r, err := e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, bidder.Address(), r.Bidder)
	assert.Equal(t, seller, r.Seller)
	assert.Equal(t, "150", r.Price.String())
	assert.Equal(t, "150", r.Payment.String())
	assert.Equal(t, int64(1), r.TokenID.Int64())
	assert.True(t, r.LedgerCleared)
	e.ledger.AssertExpectations(t)

	rec, err := e.auctioneer.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusRedeemed, rec.Status)
	assert.Equal(t, int64(1), rec.TokenID.Int64())

	own, err := e.engine.GetOwnership(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, bidder.Address(), own.Owner)
	assert.Equal(t, uri, own.URI)

	// Redeeming twice fails, as does any further mutation.
	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrNotActive)
	_, err = e.auctioneer.PickAsWinner(ctx, seller, key, big.NewInt(200), bidder.Address())
	require.ErrorIs(t, err, auction.ErrNotActive)
	_, err = e.auctioneer.CancelAuction(ctx, seller, key)
	require.ErrorIs(t, err, auction.ErrNotActive)
}

// Scenario C: underpayment leaves the record untouched.
func TestRedeemInsufficientPayment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	before, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.NoError(t, err)

	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(149))
	require.ErrorIs(t, err, auction.ErrInsufficientPayment)

	after, err := e.auctioneer.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, after.Status)
	assert.Equal(t, before.HighestBidder, after.HighestBidder)
	assert.Equal(t, before.HighestBidPrice.String(), after.HighestBidPrice.String())
	assert.Nil(t, after.TokenID)

	_, err = e.engine.GetOwnership(ctx, key)
	require.ErrorIs(t, err, auction.ErrNotFound)
	e.ledger.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything)
}

// Scenario D: a voucher carrying another bidder's fields is refused.
func TestRedeemForeignVoucher(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	x := newSigner(t)
	y := newSigner(t)
	vx := newVoucher(t, x, 150)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, vx.BidPrice, x.Address())
	require.NoError(t, err)

	// Y signs the same tuple: valid signature, wrong signer.
	vy := newVoucher(t, y, 150)
	_, err = e.engine.Redeem(ctx, key, vy, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrVoucherMismatch)

	// Tampered fields recover an unrelated address.
	forged := vy
	forged.BidPrice = big.NewInt(151)
	_, err = e.engine.Redeem(ctx, key, forged, big.NewInt(151))
	require.True(t, errors.Is(err, auction.ErrVoucherMismatch) || errors.Is(err, auction.ErrInvalidSignature))

	// X's own voucher for another price.
	vx200 := newVoucher(t, x, 200)
	_, err = e.engine.Redeem(ctx, key, vx200, big.NewInt(200))
	require.ErrorIs(t, err, auction.ErrVoucherMismatch)

	// X's voucher for another asset.
	other, err := voucher.CreateVoucher(codec.Domain(collection), "other-asset", big.NewInt(150), uri, x)
	require.NoError(t, err)
	_, err = e.engine.Redeem(ctx, key, other, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrVoucherMismatch)

	// X's voucher signed for another collection.
	foreign, err := voucher.CreateVoucher(codec.Domain(seller), assetID, big.NewInt(150), uri, x)
	require.NoError(t, err)
	_, err = e.engine.Redeem(ctx, key, foreign, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrVoucherMismatch)

	// Malformed.
	bad := vx
	bad.Signature = vx.Signature[:64]
	_, err = e.engine.Redeem(ctx, key, bad, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrMalformedVoucher)

	rec, err := e.auctioneer.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusActive, rec.Status)
}

// Scenario E: a stranger cannot cancel.
func TestCancelUnauthorized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	created := createAuction(t, e)

	_, err := e.auctioneer.CancelAuction(ctx, stranger, key)
	require.ErrorIs(t, err, auction.ErrUnauthorized)

	rec, err := e.auctioneer.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, created.Status, rec.Status)
	assert.True(t, created.UpdatedAt.Equal(rec.UpdatedAt))
}

func TestRedeemWithoutWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	_, err := e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrNotFound)

	createAuction(t, e)
	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrNotActive)

	_, err = e.auctioneer.CancelAuction(ctx, seller, key)
	require.NoError(t, err)
	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrNotActive)
}

func TestRedeemLedgerFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.NoError(t, err)

	e.ledger.On("Clear", mock.Anything, auction.AssetID(assetID)).Return(0, errors.New("connection refused")).Once()
	r, err := e.engine.Redeem(ctx, key, v, big.NewInt(200))
	require.NoError(t, err)
	assert.False(t, r.LedgerCleared)
	assert.Equal(t, "200", r.Payment.String())

	rec, err := e.auctioneer.GetTokenAuctionDetails(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusRedeemed, rec.Status)
}

func TestRedeemConcurrently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.NoError(t, err)
	e.ledger.On("Clear", mock.Anything, auction.AssetID(assetID)).Return(1, nil)

	var (
		wg       sync.WaitGroup
		lk       sync.Mutex
		redeemed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.engine.Redeem(ctx, key, v, big.NewInt(150))
			if err == nil {
				lk.Lock()
				redeemed++
				lk.Unlock()
				return
			}
			assert.ErrorIs(t, err, auction.ErrNotActive)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, redeemed)
	e.ledger.AssertNumberOfCalls(t, "Clear", 1)
}

func TestReauctionAfterRedeem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	createAuction(t, e)

	bidder := newSigner(t)
	v := newVoucher(t, bidder, 150)
	_, err := e.auctioneer.PickAsWinner(ctx, seller, key, v.BidPrice, bidder.Address())
	require.NoError(t, err)
	e.ledger.On("Clear", mock.Anything, auction.AssetID(assetID)).Return(0, nil)
	first, err := e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.NoError(t, err)

	rec := createAuction(t, e)
	assert.Equal(t, uint64(2), rec.Round)
	assert.False(t, rec.HasWinner())

	// The stale voucher has no picked winner to settle against.
	_, err = e.engine.Redeem(ctx, key, v, big.NewInt(150))
	require.ErrorIs(t, err, auction.ErrNotActive)

	next := newSigner(t)
	v2 := newVoucher(t, next, 200)
	_, err = e.auctioneer.PickAsWinner(ctx, seller, key, v2.BidPrice, next.Address())
	require.NoError(t, err)
	r, err := e.engine.Redeem(ctx, key, v2, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Round)
	assert.Equal(t, first.TokenID.String(), r.TokenID.String())

	own, err := e.engine.GetOwnership(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, next.Address(), own.Owner)
	assert.Equal(t, first.TokenID.String(), own.TokenID.String())

	_, err = e.engine.Redeem(ctx, key, v2, big.NewInt(200))
	require.ErrorIs(t, err, auction.ErrNotActive)

	rec = createAuction(t, e)
	assert.Equal(t, uint64(3), rec.Round)
}

func newEnv(t *testing.T) env {
	ctx := context.Background()
	s := dsstore.New(dssync.MutexWrap(ds.NewMapDatastore()))
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	locks := sempool.NewSemaphorePool(1)
	a, err := auctioneer.New(ctx, s, locks, auctioneer.Config{BootstrapAdmin: admin})
	require.NoError(t, err)
	l := &mockLedger{}
	eng, err := New(s, locks, codec, Config{Ledger: l, ClearTimeout: time.Second})
	require.NoError(t, err)
	return env{auctioneer: a, engine: eng, ledger: l}
}

func createAuction(t *testing.T, e env) auction.Record {
	rec, err := e.auctioneer.CreateTokenAuction(context.Background(), seller, auction.CreateParams{
		Collection: collection,
		AssetID:    assetID,
		FloorPrice: big.NewInt(100),
		Deadline:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return rec
}

func newSigner(t *testing.T) *voucher.KeySigner {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return voucher.NewKeySigner(k)
}

func newVoucher(t *testing.T, s voucher.Signer, price int64) voucher.Voucher {
	v, err := voucher.CreateVoucher(codec.Domain(collection), assetID, big.NewInt(price), uri, s)
	require.NoError(t, err)
	return v
}
