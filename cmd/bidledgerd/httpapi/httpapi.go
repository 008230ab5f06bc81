package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/bidledgerd/cast"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	cmdcommon "github.com/textileio/lazyauction/cmd/common"
	"github.com/textileio/lazyauction/util"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var log = golog.Logger("bidledger/api")

// Service provides scoped access to the bid ledger.
type Service interface {
	Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.Entry, error)
	Query(ctx context.Context, id auction.AssetID, collection common.Address) (map[common.Address]ledger.Entry, error)
	Clear(ctx context.Context, id auction.AssetID) (int, error)
}

// NewServer returns a new http server for the bid ledger.
func NewServer(listenAddr string, service Service, requestTimeout time.Duration) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(service, requestTimeout),
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

// NewHandler returns the routes of the bid ledger.
func NewHandler(service Service, requestTimeout time.Duration) http.Handler {
	if requestTimeout == 0 {
		requestTimeout = time.Second * 30
	}
	r := chi.NewRouter()
	r.Use(cmdcommon.RecoverMiddleware(log))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", healthHandler)
	r.Post("/", submitHandler(service))
	r.Post("/clearAddress", clearHandler(service))
	r.Get("/{assetId}", queryHandler(service))

	return otelhttp.NewHandler(r, "bidledgerd")
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func submitHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cast.SubmitRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		sr, err := cast.SubmitRequestFromJSON(req)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		e, err := service.Submit(r.Context(), sr)
		if err != nil {
			log.Debugf("rejected bid for %s from %s: %v", req.ID, req.Bidder, err)
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.EntryToJSON(e))
	}
}

func queryHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var collection common.Address
		if nft := r.URL.Query().Get("nft"); nft != "" {
			if !common.IsHexAddress(nft) {
				util.HTTPError(w, fmt.Errorf("nft: %q is not an address: %w", nft, auction.ErrInvalidArgument))
				return
			}
			collection = common.HexToAddress(nft)
		}
		entries, err := service.Query(r.Context(), auction.AssetID(chi.URLParam(r, "assetId")), collection)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		res := make(map[string]cast.Entry, len(entries))
		for bidder, e := range entries {
			res[bidder.Hex()] = cast.EntryToJSON(e)
		}
		util.WriteJSON(w, http.StatusOK, res)
	}
}

func clearHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cast.ClearRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		if err := auction.AssetID(req.ID).Validate(); err != nil {
			util.HTTPError(w, err)
			return
		}
		n, err := service.Clear(r.Context(), auction.AssetID(req.ID))
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.ClearResponse{Cleared: n})
	}
}
