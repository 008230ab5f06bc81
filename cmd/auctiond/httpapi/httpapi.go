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
	"github.com/textileio/lazyauction/auth"
	"github.com/textileio/lazyauction/auth/ethjwt"
	"github.com/textileio/lazyauction/cmd/auctiond/cast"
	cmdcommon "github.com/textileio/lazyauction/cmd/common"
	"github.com/textileio/lazyauction/util"
	"github.com/textileio/lazyauction/voucher"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var log = golog.Logger("auctiond/api")

// Service provides scoped access to the settlement authority.
type Service interface {
	auction.Authority
	GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error)
	ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error)
	Now() time.Time
}

// Config configures the HTTP API.
type Config struct {
	// Audience is the expected audience of caller tokens.
	Audience string
	// RequestTimeout bounds the handling of a request.
	RequestTimeout time.Duration
	// Authorizer overrides the ETH-JWT authorizer.
	Authorizer auth.Authorizer
}

type ctxKey string

const callerKey = ctxKey("caller")

// NewServer returns a new http server for the settlement authority.
func NewServer(listenAddr string, service Service, conf Config) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(service, conf),
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

// NewHandler returns the routes of the settlement authority.
func NewHandler(service Service, conf Config) http.Handler {
	if conf.RequestTimeout == 0 {
		conf.RequestTimeout = time.Second * 30
	}
	if conf.Authorizer == nil {
		conf.Authorizer = ethjwt.Authorizer{Audience: conf.Audience}
	}

	r := chi.NewRouter()
	r.Use(cmdcommon.RecoverMiddleware(log))
	r.Use(middleware.Timeout(conf.RequestTimeout))

	r.Get("/health", healthHandler)
	r.Get("/auctions/{nft}/{assetId}", getAuctionHandler(service))
	r.Get("/auctions/{nft}/{assetId}/rounds", listRoundsHandler(service))
	r.Get("/owners/{nft}/{assetId}", getOwnerHandler(service))
	r.Get("/administrators/{address}", getAdministratorHandler(service))
	r.Post("/auctions/{nft}/{assetId}/redeem", redeemHandler(service))
	r.Group(func(r chi.Router) {
		r.Use(authenticate(conf.Authorizer))
		r.Post("/auctions", createAuctionHandler(service))
		r.Post("/auctions/{nft}/{assetId}/winner", pickWinnerHandler(service))
		r.Post("/auctions/{nft}/{assetId}/cancel", cancelAuctionHandler(service))
		r.Post("/administrators", addAdministratorHandler(service))
	})

	return otelhttp.NewHandler(r, "auctiond")
}

func authenticate(a auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ethjwt.FromAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				unauthenticated(w, err)
				return
			}
			caller, err := a.Authorize(r.Context(), token)
			if err != nil {
				unauthenticated(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
		})
	}
}

func unauthenticated(w http.ResponseWriter, err error) {
	util.WriteJSON(w, http.StatusUnauthorized, util.ErrorResponse{
		Error: fmt.Sprintf("authenticating caller: %s", err),
		Kind:  auction.Kind(auction.ErrUnauthorized),
	})
}

func callerFrom(r *http.Request) common.Address {
	caller, _ := r.Context().Value(callerKey).(common.Address)
	return caller
}

func keyFrom(r *http.Request) (auction.Key, error) {
	collection, err := cast.ParseAddress("nft", chi.URLParam(r, "nft"))
	if err != nil {
		return auction.Key{}, err
	}
	key := auction.Key{Collection: collection, AssetID: auction.AssetID(chi.URLParam(r, "assetId"))}
	if err := key.Validate(); err != nil {
		return auction.Key{}, err
	}
	return key, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func getAuctionHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		rec, err := service.GetTokenAuctionDetails(r.Context(), key)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.RecordToJSON(rec, service.Now()))
	}
}

func listRoundsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		recs, err := service.ListRounds(r.Context(), key)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		now := service.Now()
		res := make([]cast.Record, len(recs))
		for i, rec := range recs {
			res[i] = cast.RecordToJSON(rec, now)
		}
		util.WriteJSON(w, http.StatusOK, res)
	}
}

func getOwnerHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		own, err := service.GetOwnership(r.Context(), key)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.OwnershipToJSON(own))
	}
}

func getAdministratorHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := cast.ParseAddress("address", chi.URLParam(r, "address"))
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		ok, err := service.Administrators(r.Context(), addr)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.Administrator{Address: addr.Hex(), Administrator: ok})
	}
}

func createAuctionHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cast.CreateRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		params, err := cast.CreateParamsFromJSON(req, service.Now())
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		rec, err := service.CreateTokenAuction(r.Context(), callerFrom(r), params)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusCreated, cast.RecordToJSON(rec, service.Now()))
	}
}

func pickWinnerHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		var req cast.PickRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		amount, err := voucher.ParseAmount(req.Amount)
		if err != nil {
			util.HTTPError(w, fmt.Errorf("amount: %v: %w", err, auction.ErrInvalidArgument))
			return
		}
		bidder, err := cast.ParseAddress("bidder", req.Bidder)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		rec, err := service.PickAsWinner(r.Context(), callerFrom(r), key, amount, bidder)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.RecordToJSON(rec, service.Now()))
	}
}

func cancelAuctionHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		rec, err := service.CancelAuction(r.Context(), callerFrom(r), key)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.RecordToJSON(rec, service.Now()))
	}
}

func redeemHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := keyFrom(r)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		var req cast.RedeemRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		payment, err := voucher.ParseAmount(req.Payment)
		if err != nil {
			util.HTTPError(w, fmt.Errorf("payment: %v: %w", err, auction.ErrInvalidArgument))
			return
		}
		receipt, err := service.Redeem(r.Context(), key, req.Voucher, payment)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.ReceiptToJSON(receipt))
	}
}

func addAdministratorHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cast.AddAdministratorRequest
		if err := util.ReadJSON(r, &req); err != nil {
			util.HTTPError(w, err)
			return
		}
		addr, err := cast.ParseAddress("address", req.Address)
		if err != nil {
			util.HTTPError(w, err)
			return
		}
		if err := service.AddAdministrator(r.Context(), callerFrom(r), addr); err != nil {
			util.HTTPError(w, err)
			return
		}
		util.WriteJSON(w, http.StatusOK, cast.Administrator{Address: addr.Hex(), Administrator: true})
	}
}
