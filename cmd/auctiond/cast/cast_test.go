package cast

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/lazyauction/auction"
)

var (
	collection = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	seller     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bidder     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func TestRecord(t *testing.T) {
	t.Parallel()
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	r := auction.Record{
		Collection:      collection,
		AssetID:         "asset-1",
		Round:           2,
		Seller:          seller,
		FloorPrice:      big.NewInt(100),
		Deadline:        now.Add(time.Hour),
		Status:          auction.StatusActive,
		HighestBidder:   bidder,
		HighestBidPrice: big.NewInt(150),
		PickedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rj := RecordToJSON(r, now)
	assert.True(t, rj.IsActive)
	assert.False(t, rj.IsCancelled)
	assert.Equal(t, "active", rj.State)
	assert.Equal(t, "150", rj.HighestBidPrice)

	ended := RecordToJSON(r, now.Add(2*time.Hour))
	assert.False(t, ended.IsActive)
	assert.Equal(t, "ended", ended.State)
	assert.Equal(t, "active", ended.Status)

	data, err := json.Marshal(rj)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	got, err := RecordFromJSON(back)
	require.NoError(t, err)
	assert.Equal(t, r.Collection, got.Collection)
	assert.Equal(t, r.Seller, got.Seller)
	assert.Equal(t, r.HighestBidder, got.HighestBidder)
	assert.Equal(t, "150", got.HighestBidPrice.String())
	assert.Equal(t, uint64(2), got.Round)
	assert.Nil(t, got.TokenID)
	assert.True(t, r.Deadline.Equal(got.Deadline))

	r.HighestBidder = common.Address{}
	r.HighestBidPrice = nil
	rj = RecordToJSON(r, now)
	assert.Empty(t, rj.HighestBidder)
	got, err = RecordFromJSON(rj)
	require.NoError(t, err)
	assert.False(t, got.HasWinner())
}

func TestCreateParamsFromJSON(t *testing.T) {
	t.Parallel()
	now := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := CreateParamsFromJSON(CreateRequest{
		NFT:        collection.Hex(),
		AssetID:    "asset-1",
		FloorPrice: "100",
		Duration:   3600,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), p.Deadline)
	assert.Equal(t, common.Address{}, p.Seller)

	deadline := now.Add(time.Minute)
	p, err = CreateParamsFromJSON(CreateRequest{
		NFT:        collection.Hex(),
		AssetID:    "asset-1",
		Seller:     seller.Hex(),
		FloorPrice: "100",
		Deadline:   deadline,
		Duration:   3600,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, deadline, p.Deadline)
	assert.Equal(t, seller, p.Seller)

	for name, req := range map[string]CreateRequest{
		"bad nft":     {NFT: "0x12", AssetID: "a", FloorPrice: "1", Duration: 1},
		"bad seller":  {NFT: collection.Hex(), Seller: "x", AssetID: "a", FloorPrice: "1", Duration: 1},
		"bad floor":   {NFT: collection.Hex(), AssetID: "a", FloorPrice: "-1", Duration: 1},
		"no deadline": {NFT: collection.Hex(), AssetID: "a", FloorPrice: "1"},
	} {
		_, err := CreateParamsFromJSON(req, now)
		require.ErrorIs(t, err, auction.ErrInvalidArgument, name)
	}
}

func TestReceiptAndOwnership(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	r := auction.Receipt{
		ID:            "id",
		Collection:    collection,
		AssetID:       "asset-1",
		Round:         1,
		TokenID:       big.NewInt(7),
		Bidder:        bidder,
		Seller:        seller,
		Price:         big.NewInt(150),
		Payment:       big.NewInt(160),
		RedeemedAt:    now,
		LedgerCleared: true,
	}
	got, err := ReceiptFromJSON(ReceiptToJSON(r))
	require.NoError(t, err)
	assert.Equal(t, r.Bidder, got.Bidder)
	assert.Equal(t, "160", got.Payment.String())
	assert.Equal(t, "7", got.TokenID.String())
	assert.True(t, got.LedgerCleared)

	o := auction.Ownership{Collection: collection, AssetID: "asset-1", TokenID: big.NewInt(7), Owner: bidder, URI: "ipfs://x", MintedAt: now}
	gotOwn, err := OwnershipFromJSON(OwnershipToJSON(o))
	require.NoError(t, err)
	assert.Equal(t, o.Owner, gotOwn.Owner)
	assert.Equal(t, "7", gotOwn.TokenID.String())
	assert.Equal(t, o.URI, gotOwn.URI)
}
