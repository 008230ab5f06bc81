package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/bidledgerd/cast"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	"github.com/textileio/lazyauction/util"
	"github.com/textileio/lazyauction/voucher"
)

const assetID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

var (
	collection = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	codec      = voucher.NewCodec(voucher.DefaultDomainName, voucher.DefaultDomainVersion, big.NewInt(31337))
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

func TestAPI_Submit(t *testing.T) {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := voucher.NewKeySigner(k)
	v, err := voucher.CreateVoucher(codec.Domain(collection), assetID, big.NewInt(150), "ipfs://"+assetID, s)
	require.NoError(t, err)
	valid := cast.SubmitRequest{
		ID:      assetID,
		Hash:    v.SignatureHex(),
		NFT:     collection.Hex(),
		Bidder:  s.Address().Hex(),
		Amount:  "150",
		Voucher: v,
	}
	entry := ledger.Entry{
		ID:          "01fj",
		AssetID:     assetID,
		Collection:  collection,
		Bidder:      s.Address(),
		Amount:      big.NewInt(150),
		Hash:        v.SignatureHex(),
		Voucher:     v,
		SubmittedAt: time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	for _, tc := range []struct {
		name               string
		body               interface{}
		serviceErr         error
		expectedStatusCode int
		expectedKind       string
	}{
		{"ok", valid, nil, http.StatusOK, ""},
		{"not json", "nope", nil, http.StatusBadRequest, "invalid_argument"},
		{"bad nft", func() cast.SubmitRequest { r := valid; r.NFT = "0x12"; return r }(), nil,
			http.StatusBadRequest, "invalid_argument"},
		{"bad amount", func() cast.SubmitRequest { r := valid; r.Amount = "-1"; return r }(), nil,
			http.StatusBadRequest, "malformed_voucher"},
		{"invalid signature", valid, auction.ErrInvalidSignature, http.StatusUnprocessableEntity, "invalid_signature"},
		{"rejected", valid, fmt.Errorf("below floor: %w", auction.ErrRejected),
			http.StatusUnprocessableEntity, "rejected"},
		{"not active", valid, auction.ErrNotActive, http.StatusConflict, "not_active"},
		{"unknown auction", valid, auction.ErrNotFound, http.StatusNotFound, "not_found"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockService{}
			ms.On("Submit", mock.Anything, mock.Anything).Return(entry, tc.serviceErr)
			h := NewHandler(ms, time.Second)

			body, err := json.Marshal(tc.body)
			require.NoError(t, err)
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
			h.ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code, res.Body.String())
			if tc.expectedStatusCode == http.StatusOK {
				var e cast.Entry
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &e))
				require.Equal(t, "01fj", e.EntryID)
				require.Equal(t, assetID, e.ID)
				require.Equal(t, "150", e.Amount)
				require.Equal(t, s.Address().Hex(), e.Bidder)
				ms.AssertCalled(t, "Submit", mock.Anything, mock.MatchedBy(func(r ledger.SubmitRequest) bool {
					return r.AssetID == assetID && r.Bidder == s.Address() && r.Amount.Cmp(big.NewInt(150)) == 0
				}))
				return
			}
			var er util.ErrorResponse
			require.NoError(t, json.Unmarshal(res.Body.Bytes(), &er))
			require.Equal(t, tc.expectedKind, er.Kind)
		})
	}
}

func TestAPI_QueryAndClear(t *testing.T) {
	bidder := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	ms := &mockService{}
	ms.On("Query", mock.Anything, auction.AssetID(assetID), common.Address{}).Return(map[common.Address]ledger.Entry{
		bidder: {ID: "01fj", AssetID: assetID, Collection: collection, Bidder: bidder, Amount: big.NewInt(120)},
	}, nil)
	ms.On("Query", mock.Anything, auction.AssetID(assetID), collection).Return(map[common.Address]ledger.Entry{}, nil)
	ms.On("Clear", mock.Anything, auction.AssetID(assetID)).Return(1, nil)
	h := NewHandler(ms, time.Second)

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/"+assetID, nil)
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	var entries map[string]cast.Entry
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "120", entries[bidder.Hex()].Amount)

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/"+assetID+"?nft="+collection.Hex(), nil)
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{}`, res.Body.String())

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/"+assetID+"?nft=0x12", nil)
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/clearAddress", bytes.NewReader([]byte(`{"id":"`+assetID+`"}`)))
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"cleared":1}`, res.Body.String())

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/clearAddress", bytes.NewReader([]byte(`{}`)))
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)

	for _, id := range []string{".", ".."} {
		res = httptest.NewRecorder()
		req, _ = http.NewRequest(http.MethodPost, "/clearAddress", bytes.NewReader([]byte(`{"id":"`+id+`"}`)))
		h.ServeHTTP(res, req)
		require.Equal(t, http.StatusBadRequest, res.Code, id)
	}

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	ms.AssertNumberOfCalls(t, "Clear", 1)
}

type mockService struct {
	mock.Mock
}

func (s *mockService) Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.Entry, error) {
	args := s.Called(ctx, req)
	return args.Get(0).(ledger.Entry), args.Error(1)
}

func (s *mockService) Query(
	ctx context.Context,
	id auction.AssetID,
	collection common.Address,
) (map[common.Address]ledger.Entry, error) {
	args := s.Called(ctx, id, collection)
	return args.Get(0).(map[common.Address]ledger.Entry), args.Error(1)
}

func (s *mockService) Clear(ctx context.Context, id auction.AssetID) (int, error) {
	args := s.Called(ctx, id)
	return args.Int(0), args.Error(1)
}
