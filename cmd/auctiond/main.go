package main

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/cmd/auctiond/auctioneer"
	"github.com/textileio/lazyauction/cmd/auctiond/service"
	cmdcommon "github.com/textileio/lazyauction/cmd/common"
	"github.com/textileio/lazyauction/voucher"
)

var (
	daemonName      = "auctiond"
	defaultRepoPath = filepath.Join(os.Getenv("HOME"), "."+daemonName)
	log             = golog.Logger(daemonName)
	v               = viper.New()
)

func init() {
	flags := []cmdcommon.Flag{
		{Name: "http-addr", DefValue: ":8002", Description: "HTTP API listen address"},
		{Name: "store-backend", DefValue: service.BackendBadger, Description: "Settlement store backend (memory, badger, postgres)"},
		{Name: "repo", DefValue: defaultRepoPath, Description: "Repo path of the badger store"},
		{Name: "postgres-uri", DefValue: "", Description: "Postgres URI of the postgres store, must include timezone=UTC"},
		{Name: "chain-id", DefValue: "31337", Description: "Chain id bound into voucher signatures"},
		{Name: "domain-name", DefValue: voucher.DefaultDomainName, Description: "EIP-712 domain name of vouchers"},
		{Name: "domain-version", DefValue: voucher.DefaultDomainVersion, Description: "EIP-712 domain version of vouchers"},
		{Name: "bootstrap-admin", DefValue: "", Description: "Address added to the administrator set on start"},
		{Name: "pick-policy", DefValue: "grace", Description: "Winner picks after the deadline: grace allows them, strict rejects them"},
		{Name: "ledger-addr", DefValue: "", Description: "Bid ledger base URL, cleared after redemptions"},
		{Name: "ledger-timeout", DefValue: time.Second * 10, Description: "Bid ledger request timeout"},
		{Name: "jwt-audience", DefValue: daemonName, Description: "Expected audience of caller tokens"},
		{Name: "request-timeout", DefValue: time.Second * 30, Description: "HTTP request timeout"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		cmdcommon.CheckErrf("loading .env: %v", cmdcommon.LoadDotEnv(".env"))
	})

	cmdcommon.ConfigureCLI(v, "AUCTIOND", flags, rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctiond is the settlement authority of lazy-minted asset auctions",
	Long: `auctiond owns auction records, picks winners and redeems signed vouchers,
minting the auctioned asset to the winning bidder.`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cmdcommon.ExpandEnvVars(v, v.AllSettings())
		err := cmdcommon.ConfigureLogging(v, []string{
			daemonName,
			"auctioneer",
			"settlement",
			"auctiond/service",
			"auctiond/api",
			"auctiond/dsstore",
			"auctiond/pgstore",
			"bidledger/client",
		})
		cmdcommon.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		cmdcommon.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))

		err = cmdcommon.SetupInstrumentation(v.GetString("metrics-addr"))
		cmdcommon.CheckErrf("booting instrumentation: %v", err)

		chainID, ok := new(big.Int).SetString(v.GetString("chain-id"), 10)
		if !ok {
			log.Fatalf("chain-id %q is not a number", v.GetString("chain-id"))
		}
		var admin common.Address
		if v.GetString("bootstrap-admin") != "" {
			admin, err = cmdcommon.ParseAddress(v, "bootstrap-admin")
			cmdcommon.CheckErrf("parsing bootstrap admin: %v", err)
		}
		policy, err := auctioneer.PickPolicyByString(v.GetString("pick-policy"))
		cmdcommon.CheckErrf("parsing pick policy: %v", err)

		serv, err := service.New(context.Background(), service.Config{
			ListenAddr:     v.GetString("http-addr"),
			StoreBackend:   v.GetString("store-backend"),
			RepoPath:       v.GetString("repo"),
			PostgresURI:    v.GetString("postgres-uri"),
			ChainID:        chainID,
			DomainName:     v.GetString("domain-name"),
			DomainVersion:  v.GetString("domain-version"),
			BootstrapAdmin: admin,
			PickPolicy:     policy,
			LedgerAddr:     v.GetString("ledger-addr"),
			LedgerTimeout:  v.GetDuration("ledger-timeout"),
			Audience:       v.GetString("jwt-audience"),
			RequestTimeout: v.GetDuration("request-timeout"),
		})
		cmdcommon.CheckErrf("starting service: %v", err)

		cmdcommon.HandleInterrupt(func() {
			cmdcommon.CheckErr(serv.Close())
		})
	},
}

func main() {
	cmdcommon.CheckErr(rootCmd.Execute())
}
