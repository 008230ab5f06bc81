package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/auth/ethjwt"
	"github.com/textileio/lazyauction/cmd/auctiond/cast"
	authority "github.com/textileio/lazyauction/cmd/auctiond/client"
	lcast "github.com/textileio/lazyauction/cmd/bidledgerd/cast"
	ledgerclient "github.com/textileio/lazyauction/cmd/bidledgerd/client"
	"github.com/textileio/lazyauction/cmd/bidledgerd/ledger"
	cmdcommon "github.com/textileio/lazyauction/cmd/common"
	"github.com/textileio/lazyauction/voucher"
)

var (
	cliName = "auctionctl"
	log     = golog.Logger(cliName)
	v       = viper.New()
)

func init() {
	adminCmd.AddCommand(adminCheckCmd, adminAddCmd)
	rootCmd.AddCommand(
		tokenCmd,
		createCmd,
		detailsCmd,
		roundsCmd,
		pickCmd,
		cancelCmd,
		signCmd,
		bidCmd,
		bidsCmd,
		redeemCmd,
		ownerCmd,
		adminCmd,
	)

	flags := []cmdcommon.Flag{
		{Name: "auctiond-addr", DefValue: "http://127.0.0.1:8002", Description: "Settlement authority base URL"},
		{Name: "ledger-addr", DefValue: "http://127.0.0.1:8003", Description: "Bid ledger base URL"},
		{Name: "key", DefValue: "", Description: "Hex encoded secp256k1 private key of the caller"},
		{Name: "jwt-audience", DefValue: "auctiond", Description: "Audience of caller tokens"},
		{Name: "token-ttl", DefValue: time.Hour, Description: "Lifetime of caller tokens"},
		{Name: "chain-id", DefValue: "31337", Description: "Chain id bound into voucher signatures"},
		{Name: "domain-name", DefValue: voucher.DefaultDomainName, Description: "EIP-712 domain name of vouchers"},
		{Name: "domain-version", DefValue: voucher.DefaultDomainVersion, Description: "EIP-712 domain version of vouchers"},
		{Name: "timeout", DefValue: time.Second * 30, Description: "Request timeout"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		cmdcommon.CheckErrf("loading .env: %v", cmdcommon.LoadDotEnv(".env"))
	})

	cmdcommon.ConfigureCLI(v, "AUCTIONCTL", flags, rootCmd.PersistentFlags())

	createCmd.Flags().String("seller", "", "Seller address when acting for another seller")
	createCmd.Flags().Duration("duration", time.Hour*24, "Auction duration")
	redeemCmd.Flags().String("payment", "", "Payment attached to the redemption; defaults to the winning price")
	bidsCmd.Flags().String("nft", "", "Only list bids on this collection")
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "auctionctl drives lazy-minted asset auctions",
	Long: `auctionctl drives lazy-minted asset auctions.

Sellers create auctions and pick winners, bidders sign vouchers and submit
them to the bid ledger, and winners redeem their voucher to mint the asset.`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cmdcommon.ExpandEnvVars(v, v.AllSettings())
		err := cmdcommon.ConfigureLogging(v, []string{cliName})
		cmdcommon.CheckErrf("setting log levels: %v", err)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Prints a caller token signed by the configured key",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		key := loadKey()
		token, err := ethjwt.NewToken(key, v.GetString("jwt-audience"), v.GetDuration("token-ttl"))
		cmdcommon.CheckErrf("creating token: %v", err)
		fmt.Println(token)
	},
}

var createCmd = &cobra.Command{
	Use:   "create [nft] [asset-id] [floor-price]",
	Short: "Creates an auction for an asset",
	Args:  cobra.ExactArgs(3),
	Run: func(c *cobra.Command, args []string) {
		key := parseKey(args[0], args[1])
		floor, err := voucher.ParseAmount(args[2])
		cmdcommon.CheckErrf("parsing floor price: %v", err)
		duration, err := c.Flags().GetDuration("duration")
		cmdcommon.CheckErr(err)
		p := auction.CreateParams{
			Collection: key.Collection,
			AssetID:    key.AssetID,
			FloorPrice: floor,
			Deadline:   time.Now().Add(duration),
		}
		if s, _ := c.Flags().GetString("seller"); s != "" {
			p.Seller = parseAddress("seller", s)
		}

		ctx, cancel := newContext()
		defer cancel()
		rec, err := newAuthority(true).CreateTokenAuction(ctx, common.Address{}, p)
		cmdcommon.CheckErrf("creating auction: %v", err)
		log.Infof("auction %s round %d ends %s", rec.Key(), rec.Round, humanize.Time(rec.Deadline))
		printJSON(cast.RecordToJSON(rec, time.Now()))
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details [nft] [asset-id]",
	Short: "Prints the current auction of an asset",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		ctx, cancel := newContext()
		defer cancel()
		rec, err := newAuthority(false).GetTokenAuctionDetails(ctx, parseKey(args[0], args[1]))
		cmdcommon.CheckErrf("getting auction: %v", err)
		printJSON(cast.RecordToJSON(rec, time.Now()))
	},
}

var roundsCmd = &cobra.Command{
	Use:   "rounds [nft] [asset-id]",
	Short: "Prints every auction round of an asset",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		ctx, cancel := newContext()
		defer cancel()
		recs, err := newAuthority(false).ListRounds(ctx, parseKey(args[0], args[1]))
		cmdcommon.CheckErrf("listing rounds: %v", err)
		now := time.Now()
		res := make([]cast.Record, len(recs))
		for i, rec := range recs {
			res[i] = cast.RecordToJSON(rec, now)
		}
		printJSON(res)
	},
}

var pickCmd = &cobra.Command{
	Use:   "pick [nft] [asset-id] [bidder] [amount]",
	Short: "Picks the winning bid of an auction",
	Args:  cobra.ExactArgs(4),
	Run: func(c *cobra.Command, args []string) {
		amount, err := voucher.ParseAmount(args[3])
		cmdcommon.CheckErrf("parsing amount: %v", err)

		ctx, cancel := newContext()
		defer cancel()
		rec, err := newAuthority(true).PickAsWinner(
			ctx,
			common.Address{},
			parseKey(args[0], args[1]),
			amount,
			parseAddress("bidder", args[2]),
		)
		cmdcommon.CheckErrf("picking winner: %v", err)
		log.Infof("picked %s at %s", rec.HighestBidder.Hex(), auction.FormatEther(rec.HighestBidPrice))
		printJSON(cast.RecordToJSON(rec, time.Now()))
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [nft] [asset-id]",
	Short: "Cancels an auction without a picked winner",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		ctx, cancel := newContext()
		defer cancel()
		rec, err := newAuthority(true).CancelAuction(ctx, common.Address{}, parseKey(args[0], args[1]))
		cmdcommon.CheckErrf("cancelling auction: %v", err)
		printJSON(cast.RecordToJSON(rec, time.Now()))
	},
}

var signCmd = &cobra.Command{
	Use:   "sign [nft] [asset-id] [bid-price] [uri]",
	Short: "Prints a voucher signed by the configured key",
	Args:  cobra.ExactArgs(4),
	Run: func(c *cobra.Command, args []string) {
		printJSON(signVoucher(args))
	},
}

var bidCmd = &cobra.Command{
	Use:   "bid [nft] [asset-id] [bid-price] [uri]",
	Short: "Signs a voucher and submits it to the bid ledger",
	Args:  cobra.ExactArgs(4),
	Run: func(c *cobra.Command, args []string) {
		vo := signVoucher(args)
		key := parseKey(args[0], args[1])

		ctx, cancel := newContext()
		defer cancel()
		e, err := newLedger().Submit(ctx, ledger.SubmitRequest{
			AssetID:    key.AssetID,
			Collection: key.Collection,
			Bidder:     newSigner().Address(),
			Amount:     vo.BidPrice,
			Hash:       vo.SignatureHex(),
			Voucher:    vo,
		})
		cmdcommon.CheckErrf("submitting bid: %v", err)
		printJSON(lcast.EntryToJSON(e))
	},
}

var bidsCmd = &cobra.Command{
	Use:   "bids [asset-id]",
	Short: "Lists the latest bid of every bidder for an asset",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		ctx, cancel := newContext()
		defer cancel()
		var collection common.Address
		if nft, _ := c.Flags().GetString("nft"); nft != "" {
			collection = parseAddress("nft", nft)
		}
		entries, err := newLedger().Query(ctx, auction.AssetID(args[0]), collection)
		cmdcommon.CheckErrf("querying bids: %v", err)
		res := make(map[string]lcast.Entry, len(entries))
		for bidder, e := range entries {
			res[bidder.Hex()] = lcast.EntryToJSON(e)
		}
		printJSON(res)
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem [nft] [asset-id]",
	Short: "Redeems the picked winning voucher from the bid ledger",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		key := parseKey(args[0], args[1])
		a := newAuthority(false)

		ctx, cancel := newContext()
		defer cancel()
		rec, err := a.GetTokenAuctionDetails(ctx, key)
		cmdcommon.CheckErrf("getting auction: %v", err)
		entries, err := newLedger().Query(ctx, key.AssetID, key.Collection)
		cmdcommon.CheckErrf("querying bids: %v", err)
		e, err := winningEntry(rec, entries)
		cmdcommon.CheckErr(err)

		payment := rec.HighestBidPrice
		if p, _ := c.Flags().GetString("payment"); p != "" {
			payment, err = voucher.ParseAmount(p)
			cmdcommon.CheckErrf("parsing payment: %v", err)
		}
		r, err := a.Redeem(ctx, key, e.Voucher, payment)
		cmdcommon.CheckErrf("redeeming voucher: %v", err)
		log.Infof("minted token %s to %s", r.TokenID, r.Bidder.Hex())
		printJSON(cast.ReceiptToJSON(r))
	},
}

var ownerCmd = &cobra.Command{
	Use:   "owner [nft] [asset-id]",
	Short: "Prints the minted ownership of an asset",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		ctx, cancel := newContext()
		defer cancel()
		o, err := newAuthority(false).GetOwnership(ctx, parseKey(args[0], args[1]))
		cmdcommon.CheckErrf("getting ownership: %v", err)
		printJSON(cast.OwnershipToJSON(o))
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manages the administrator set",
}

var adminCheckCmd = &cobra.Command{
	Use:   "check [address]",
	Short: "Prints whether an address is an administrator",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		addr := parseAddress("address", args[0])
		ctx, cancel := newContext()
		defer cancel()
		ok, err := newAuthority(false).Administrators(ctx, addr)
		cmdcommon.CheckErrf("checking administrator: %v", err)
		printJSON(cast.Administrator{Address: addr.Hex(), Administrator: ok})
	},
}

var adminAddCmd = &cobra.Command{
	Use:   "add [address]",
	Short: "Adds an address to the administrator set",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		addr := parseAddress("address", args[0])
		ctx, cancel := newContext()
		defer cancel()
		err := newAuthority(true).AddAdministrator(ctx, common.Address{}, addr)
		cmdcommon.CheckErrf("adding administrator: %v", err)
		fmt.Printf("added administrator %s\n", addr.Hex())
	},
}

// winningEntry returns the ledger entry carrying the picked winning bid of rec.
func winningEntry(rec auction.Record, entries map[common.Address]ledger.Entry) (ledger.Entry, error) {
	if !rec.HasWinner() {
		return ledger.Entry{}, fmt.Errorf("auction %s has no picked winner", rec.Key())
	}
	e, ok := entries[rec.HighestBidder]
	if !ok {
		return ledger.Entry{}, fmt.Errorf("no bid from winner %s in the ledger", rec.HighestBidder.Hex())
	}
	if e.Amount == nil || e.Amount.Cmp(rec.HighestBidPrice) != 0 {
		return ledger.Entry{}, fmt.Errorf(
			"ledger bid of %s is %s, picked price is %s",
			rec.HighestBidder.Hex(),
			amountString(e.Amount),
			rec.HighestBidPrice,
		)
	}
	return e, nil
}

func signVoucher(args []string) voucher.Voucher {
	key := parseKey(args[0], args[1])
	price, err := voucher.ParseAmount(args[2])
	cmdcommon.CheckErrf("parsing bid price: %v", err)
	vo, err := voucher.CreateVoucher(newCodec().Domain(key.Collection), string(key.AssetID), price, args[3], newSigner())
	cmdcommon.CheckErrf("signing voucher: %v", err)
	return vo
}

func newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), v.GetDuration("timeout"))
}

func newAuthority(authenticated bool) *authority.Client {
	opts := []authority.Option{authority.WithTimeout(v.GetDuration("timeout"))}
	if authenticated {
		key := loadKey()
		opts = append(opts, authority.WithTokenSource(func() (string, error) {
			return ethjwt.NewToken(key, v.GetString("jwt-audience"), v.GetDuration("token-ttl"))
		}))
	}
	return authority.New(v.GetString("auctiond-addr"), opts...)
}

func newLedger() *ledgerclient.Client {
	return ledgerclient.New(v.GetString("ledger-addr"), ledgerclient.WithTimeout(v.GetDuration("timeout")))
}

func newCodec() *voucher.Codec {
	chainID, ok := new(big.Int).SetString(v.GetString("chain-id"), 10)
	if !ok {
		log.Fatalf("chain-id %q is not a number", v.GetString("chain-id"))
	}
	return voucher.NewCodec(v.GetString("domain-name"), v.GetString("domain-version"), chainID)
}

func loadKey() *ecdsa.PrivateKey {
	hexKey := strings.TrimPrefix(v.GetString("key"), "0x")
	if hexKey == "" {
		cmdcommon.CheckErr(errors.New("a private key is required, set --key or AUCTIONCTL_KEY"))
	}
	key, err := crypto.HexToECDSA(hexKey)
	cmdcommon.CheckErrf("parsing private key: %v", err)
	return key
}

func newSigner() *voucher.KeySigner {
	return voucher.NewKeySigner(loadKey())
}

func parseKey(nft, assetID string) auction.Key {
	key := auction.Key{Collection: parseAddress("nft", nft), AssetID: auction.AssetID(assetID)}
	cmdcommon.CheckErr(key.Validate())
	return key
}

func parseAddress(name, s string) common.Address {
	addr, err := cast.ParseAddress(name, s)
	cmdcommon.CheckErr(err)
	return addr
}

func amountString(a *big.Int) string {
	if a == nil {
		return "empty"
	}
	return a.String()
}

func printJSON(out interface{}) {
	data, err := json.MarshalIndent(out, "", "  ")
	cmdcommon.CheckErrf("marshaling output: %v", err)
	fmt.Println(string(data))
}

func main() {
	cmdcommon.CheckErr(rootCmd.Execute())
}
