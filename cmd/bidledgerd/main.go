package main

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
	authority "github.com/textileio/lazyauction/cmd/auctiond/client"
	"github.com/textileio/lazyauction/cmd/bidledgerd/httpapi"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	cmdcommon "github.com/textileio/lazyauction/cmd/common"
	"github.com/textileio/lazyauction/finalizer"
	"github.com/textileio/lazyauction/voucher"
)

var (
	daemonName = "bidledgerd"
	log        = golog.Logger(daemonName)
	v          = viper.New()
)

func init() {
	flags := []cmdcommon.Flag{
		{Name: "http-addr", DefValue: ":8003", Description: "HTTP API listen address"},
		{Name: "repo", DefValue: "", Description: "Repo path of the badger store, bids are kept in memory when empty"},
		{Name: "chain-id", DefValue: "31337", Description: "Chain id bound into voucher signatures"},
		{Name: "domain-name", DefValue: voucher.DefaultDomainName, Description: "EIP-712 domain name of vouchers"},
		{Name: "domain-version", DefValue: voucher.DefaultDomainVersion, Description: "EIP-712 domain version of vouchers"},
		{Name: "authority-addr", DefValue: "", Description: "Settlement authority base URL bids are checked against"},
		{Name: "authority-timeout", DefValue: time.Second * 10, Description: "Settlement authority request timeout"},
		{Name: "request-timeout", DefValue: time.Second * 30, Description: "HTTP request timeout"},
		{Name: "metrics-addr", DefValue: ":9091", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		cmdcommon.CheckErrf("loading .env: %v", cmdcommon.LoadDotEnv(".env"))
	})

	cmdcommon.ConfigureCLI(v, "BIDLEDGERD", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "bidledgerd records signed bid vouchers",
	Long: `bidledgerd records the latest signed bid voucher of every bidder per asset.
Bids are checked against the settlement authority when one is configured.`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cmdcommon.ExpandEnvVars(v, v.AllSettings())
		err := cmdcommon.ConfigureLogging(v, []string{
			daemonName,
			"bidledger",
			"bidledger/api",
		})
		cmdcommon.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		fin := finalizer.NewFinalizer()

		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		cmdcommon.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))

		err = cmdcommon.SetupInstrumentation(v.GetString("metrics-addr"))
		cmdcommon.CheckErrf("booting instrumentation: %v", err)

		chainID, ok := new(big.Int).SetString(v.GetString("chain-id"), 10)
		if !ok {
			log.Fatalf("chain-id %q is not a number", v.GetString("chain-id"))
		}

		var store ds.Batching
		if repo := v.GetString("repo"); repo != "" {
			cmdcommon.CheckErrf("creating repo: %v", os.MkdirAll(repo, os.ModePerm))
			store, err = badger.NewDatastore(repo, &badger.DefaultOptions)
			cmdcommon.CheckErrf("opening badger datastore: %v", err)
		} else {
			store = dssync.MutexWrap(ds.NewMapDatastore())
		}

		conf := ledger.Config{AuthorityTimeout: v.GetDuration("authority-timeout")}
		if addr := v.GetString("authority-addr"); addr != "" {
			conf.Authority = authority.New(addr, authority.WithTimeout(conf.AuthorityTimeout))
		} else {
			log.Warn("no settlement authority configured, bids are not checked against auctions")
		}
		codec := voucher.NewCodec(v.GetString("domain-name"), v.GetString("domain-version"), chainID)
		l, err := ledger.New(store, codec, conf)
		cmdcommon.CheckErrf("creating ledger: %v", err)
		fin.Add(l)

		server, err := httpapi.NewServer(v.GetString("http-addr"), l, v.GetDuration("request-timeout"))
		cmdcommon.CheckErrf("starting http server: %v", err)
		fin.AddFn(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			return server.Shutdown(ctx)
		})

		cmdcommon.HandleInterrupt(func() {
			cmdcommon.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

func main() {
	cmdcommon.CheckErr(rootCmd.Execute())
}
