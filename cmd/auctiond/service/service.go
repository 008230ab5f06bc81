package service

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/auctioneer"
	"github.com/textileio/lazyauction/cmd/auctiond/httpapi"
	"github.com/textileio/lazyauction/cmd/auctiond/settlement"
	"github.com/textileio/lazyauction/cmd/auctiond/store"
	"github.com/textileio/lazyauction/cmd/auctiond/store/dsstore"
	"github.com/textileio/lazyauction/cmd/auctiond/store/pgstore"
	ledgerclient "github.com/textileio/lazyauction/cmd/bidledgerd/client"
	"github.com/textileio/lazyauction/finalizer"
	"github.com/textileio/lazyauction/sempool"
	"github.com/textileio/lazyauction/voucher"
)

var log = golog.Logger("auctiond/service")

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config defines params for Service configuration.
type Config struct {
	ListenAddr string

	StoreBackend string
	RepoPath     string
	PostgresURI  string

	ChainID       *big.Int
	DomainName    string
	DomainVersion string

	BootstrapAdmin common.Address
	PickPolicy     auctioneer.PickPolicy

	// LedgerAddr is the bid ledger base URL. Redemptions and cancellations clear the
	// ledger when set.
	LedgerAddr    string
	LedgerTimeout time.Duration

	Audience       string
	RequestTimeout time.Duration
}

// Service is the settlement authority: an auction state machine and a settlement engine
// sharing one store and one set of per-asset locks.
type Service struct {
	auctioneer *auctioneer.Auctioneer
	engine     *settlement.Engine
	server     *http.Server
	locks      *sempool.SemaphorePool

	finalizer *finalizer.Finalizer
}

var _ httpapi.Service = (*Service)(nil)

// New returns a new Service. The HTTP server is started when conf.ListenAddr is set.
func New(ctx context.Context, conf Config) (*Service, error) {
	fin := finalizer.NewFinalizer()

	s, err := newStore(conf)
	if err != nil {
		return nil, fin.Cleanupf("creating store: %v", err)
	}
	fin.Add(s)

	locks := sempool.NewSemaphorePool(1)
	fin.AddFn(func() error {
		locks.Stop()
		return nil
	})

	var ledger auction.LedgerClearer
	if conf.LedgerAddr != "" {
		ledger = ledgerclient.New(conf.LedgerAddr, ledgerclient.WithTimeout(conf.LedgerTimeout))
	}

	a, err := auctioneer.New(ctx, s, locks, auctioneer.Config{
		BootstrapAdmin: conf.BootstrapAdmin,
		PickPolicy:     conf.PickPolicy,
		Ledger:         ledger,
		ClearTimeout:   conf.LedgerTimeout,
	})
	if err != nil {
		return nil, fin.Cleanupf("creating auctioneer: %v", err)
	}
	if conf.DomainName == "" {
		conf.DomainName = voucher.DefaultDomainName
	}
	if conf.DomainVersion == "" {
		conf.DomainVersion = voucher.DefaultDomainVersion
	}
	codec := voucher.NewCodec(conf.DomainName, conf.DomainVersion, conf.ChainID)
	e, err := settlement.New(s, locks, codec, settlement.Config{
		Ledger:       ledger,
		ClearTimeout: conf.LedgerTimeout,
	})
	if err != nil {
		return nil, fin.Cleanupf("creating settlement engine: %v", err)
	}

	srv := &Service{
		auctioneer: a,
		engine:     e,
		locks:      locks,
		finalizer:  fin,
	}
	if conf.ListenAddr != "" {
		srv.server, err = httpapi.NewServer(conf.ListenAddr, srv, httpapi.Config{
			Audience:       conf.Audience,
			RequestTimeout: conf.RequestTimeout,
		})
		if err != nil {
			return nil, fin.Cleanupf("creating http server: %v", err)
		}
	}

	log.Infof("service started: store %s, chain %s, pick policy %s", conf.StoreBackend, conf.ChainID, conf.PickPolicy)
	return srv, nil
}

func newStore(conf Config) (store.Store, error) {
	switch conf.StoreBackend {
	case BackendMemory, "":
		return dsstore.New(dssync.MutexWrap(ds.NewMapDatastore())), nil
	case BackendBadger:
		if err := os.MkdirAll(conf.RepoPath, os.ModePerm); err != nil {
			return nil, fmt.Errorf("creating repo path: %v", err)
		}
		bds, err := badger.NewDatastore(conf.RepoPath, &badger.DefaultOptions)
		if err != nil {
			return nil, fmt.Errorf("opening badger datastore: %v", err)
		}
		return dsstore.New(bds), nil
	case BackendPostgres:
		return pgstore.New(conf.PostgresURI)
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.StoreBackend)
	}
}

// Close the service.
func (s *Service) Close() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.Errorf("shutting down http server: %v", err)
		}
	}
	log.Info("service was shutdown")
	return s.finalizer.Cleanup(nil)
}

// Now implements httpapi.Service.
func (s *Service) Now() time.Time {
	return s.auctioneer.Now()
}

// CreateTokenAuction implements auction.Authority.
func (s *Service) CreateTokenAuction(ctx context.Context, caller common.Address, p auction.CreateParams) (auction.Record, error) {
	return s.auctioneer.CreateTokenAuction(ctx, caller, p)
}

// GetTokenAuctionDetails implements auction.Authority.
func (s *Service) GetTokenAuctionDetails(ctx context.Context, key auction.Key) (auction.Record, error) {
	return s.auctioneer.GetTokenAuctionDetails(ctx, key)
}

// ListRounds implements httpapi.Service.
func (s *Service) ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error) {
	return s.auctioneer.ListRounds(ctx, key)
}

// PickAsWinner implements auction.Authority.
func (s *Service) PickAsWinner(
	ctx context.Context,
	caller common.Address,
	key auction.Key,
	amount *big.Int,
	bidder common.Address,
) (auction.Record, error) {
	return s.auctioneer.PickAsWinner(ctx, caller, key, amount, bidder)
}

// CancelAuction implements auction.Authority.
func (s *Service) CancelAuction(ctx context.Context, caller common.Address, key auction.Key) (auction.Record, error) {
	return s.auctioneer.CancelAuction(ctx, caller, key)
}

// Redeem implements auction.Authority.
func (s *Service) Redeem(ctx context.Context, key auction.Key, v voucher.Voucher, payment *big.Int) (auction.Receipt, error) {
	return s.engine.Redeem(ctx, key, v, payment)
}

// Administrators implements auction.Authority.
func (s *Service) Administrators(ctx context.Context, addr common.Address) (bool, error) {
	return s.auctioneer.Administrators(ctx, addr)
}

// AddAdministrator implements auction.Authority.
func (s *Service) AddAdministrator(ctx context.Context, caller, addr common.Address) error {
	return s.auctioneer.AddAdministrator(ctx, caller, addr)
}

// GetOwnership implements httpapi.Service.
func (s *Service) GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error) {
	return s.engine.GetOwnership(ctx, key)
}
