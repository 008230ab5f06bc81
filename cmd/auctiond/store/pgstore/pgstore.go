// Package pgstore implements the settlement store on postgres.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/textileio/go-log/v2"
	"github.com/textileio/lazyauction/auction"
	"github.com/textileio/lazyauction/cmd/auctiond/store"
	"github.com/textileio/lazyauction/storeutil"
)

//go:embed migrations/*.sql
var migrations embed.FS

var log = golog.Logger("auctiond/pgstore")

var _ store.Store = (*Store)(nil)

const auctionColumns = `collection, asset_id, round, seller, floor_price::text, deadline, status,
	highest_bidder, highest_bid_price::text, picked_at, token_id::text, created_at, updated_at`

// Store is a postgres backed settlement store.
type Store struct {
	conn *sql.DB
}

// New migrates the database at postgresURI and returns a *Store.
func New(postgresURI string) (*Store, error) {
	conn, err := storeutil.MigrateAndConnectToDB(postgresURI, migrations, "migrations")
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

// GetAuction returns the latest round of an auction.
func (s *Store) GetAuction(ctx context.Context, key auction.Key) (auction.Record, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		WHERE collection=$1 AND asset_id=$2 ORDER BY round DESC LIMIT 1`,
		addrString(key.Collection), string(key.AssetID))
	rec, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Record{}, fmt.Errorf("getting auction %s: %w", key, auction.ErrNotFound)
	} else if err != nil {
		return auction.Record{}, fmt.Errorf("getting auction %s: %v", key, err)
	}
	return rec, nil
}

// ListRounds returns every round of an auction, oldest first.
func (s *Store) ListRounds(ctx context.Context, key auction.Key) ([]auction.Record, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		WHERE collection=$1 AND asset_id=$2 ORDER BY round`,
		addrString(key.Collection), string(key.AssetID))
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %v", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Errorf("closing rows: %v", err)
		}
	}()
	var recs []auction.Record
	for rows.Next() {
		rec, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning round: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveAuction upserts the record of its round.
func (s *Store) SaveAuction(ctx context.Context, rec auction.Record) error {
	if _, err := upsertAuction(ctx, s.conn, rec); err != nil {
		return fmt.Errorf("saving auction: %v", err)
	}
	return nil
}

// CommitRedemption mints the next token id of the collection and saves rec in one transaction.
// An asset minted by an earlier round keeps its token id and passes to the new owner.
func (s *Store) CommitRedemption(
	ctx context.Context,
	rec auction.Record,
	owner common.Address,
	uri string,
	at time.Time,
) (own auction.Ownership, err error) {
	collection := addrString(rec.Collection)
	var transferred bool
	err = storeutil.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM auctions WHERE collection=$1 AND asset_id=$2 AND round=$3 FOR UPDATE`,
			collection, string(rec.AssetID), int64(rec.Round)).Scan(&status)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("locking auction: %v", err)
		}
		var newer bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM auctions WHERE collection=$1 AND asset_id=$2 AND round>$3)`,
			collection, string(rec.AssetID), int64(rec.Round)).Scan(&newer); err != nil {
			return fmt.Errorf("querying rounds: %v", err)
		}
		if newer || status == auction.StatusRedeemed.String() {
			return fmt.Errorf("auction %s round %d is no longer redeemable: %w", rec.Key(), rec.Round, auction.ErrNotActive)
		}

		var last string
		err = tx.QueryRowContext(ctx,
			`UPDATE ownerships SET owner=$3, uri=$4 WHERE collection=$1 AND asset_id=$2
			RETURNING token_id::text, minted_at`,
			collection, string(rec.AssetID), addrString(owner), uri).Scan(&last, &own.MintedAt)
		switch {
		case err == nil:
			transferred = true
		case errors.Is(err, sql.ErrNoRows):
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO token_counters (collection, last_token_id) VALUES ($1, 1)
				ON CONFLICT (collection) DO UPDATE SET last_token_id = token_counters.last_token_id + 1
				RETURNING last_token_id::text`, collection).Scan(&last); err != nil {
				return fmt.Errorf("incrementing token counter: %v", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ownerships (collection, asset_id, token_id, owner, uri, minted_at)
				VALUES ($1, $2, $3::numeric, $4, $5, $6)`,
				collection, string(rec.AssetID), last, addrString(owner), uri, at.UTC()); err != nil {
				if storeutil.IsUniqueViolation(err) {
					return fmt.Errorf("asset %s minted concurrently: %w", rec.Key(), auction.ErrNotActive)
				}
				return fmt.Errorf("inserting ownership: %v", err)
			}
			own.MintedAt = at
		default:
			return fmt.Errorf("updating ownership: %v", err)
		}
		tokenID, ok := new(big.Int).SetString(last, 10)
		if !ok {
			return fmt.Errorf("parsing token id %q", last)
		}
		rec.TokenID = tokenID
		if _, err := upsertAuction(ctx, tx, rec); err != nil {
			return fmt.Errorf("saving auction: %v", err)
		}
		own.Collection = rec.Collection
		own.AssetID = rec.AssetID
		own.TokenID = tokenID
		own.Owner = owner
		own.URI = uri
		return nil
	})
	if err != nil {
		return auction.Ownership{}, err
	}
	if transferred {
		log.Debugf("transferred token %s of %s to %s", own.TokenID, rec.Collection.Hex(), owner.Hex())
	} else {
		log.Debugf("minted token %s of %s to %s", own.TokenID, rec.Collection.Hex(), owner.Hex())
	}
	return own, nil
}

// GetOwnership returns the minted ownership of an asset.
func (s *Store) GetOwnership(ctx context.Context, key auction.Key) (auction.Ownership, error) {
	var (
		tokenID, owner string
		own            = auction.Ownership{Collection: key.Collection, AssetID: key.AssetID}
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT token_id::text, owner, uri, minted_at FROM ownerships WHERE collection=$1 AND asset_id=$2`,
		addrString(key.Collection), string(key.AssetID)).Scan(&tokenID, &owner, &own.URI, &own.MintedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Ownership{}, fmt.Errorf("getting ownership %s: %w", key, auction.ErrNotFound)
	} else if err != nil {
		return auction.Ownership{}, fmt.Errorf("getting ownership %s: %v", key, err)
	}
	var ok bool
	if own.TokenID, ok = new(big.Int).SetString(tokenID, 10); !ok {
		return auction.Ownership{}, fmt.Errorf("parsing token id %q", tokenID)
	}
	own.Owner = common.HexToAddress(owner)
	return own, nil
}

// IsAdministrator returns true if addr is an administrator.
func (s *Store) IsAdministrator(ctx context.Context, addr common.Address) (bool, error) {
	var exists bool
	if err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM administrators WHERE address=$1)`,
		addrString(addr)).Scan(&exists); err != nil {
		return false, fmt.Errorf("querying administrator: %v", err)
	}
	return exists, nil
}

// AddAdministrator adds addr to the administrator set.
func (s *Store) AddAdministrator(ctx context.Context, addr common.Address) error {
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO administrators (address) VALUES ($1) ON CONFLICT DO NOTHING`,
		addrString(addr)); err != nil {
		return fmt.Errorf("inserting administrator: %v", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertAuction(ctx context.Context, e execer, rec auction.Record) (sql.Result, error) {
	var picked sql.NullTime
	if !rec.PickedAt.IsZero() {
		picked = sql.NullTime{Time: rec.PickedAt.UTC(), Valid: true}
	}
	var bidder string
	if rec.HasWinner() {
		bidder = addrString(rec.HighestBidder)
	}
	return e.ExecContext(ctx,
		`INSERT INTO auctions (collection, asset_id, round, seller, floor_price, deadline, status,
			highest_bidder, highest_bid_price, picked_at, token_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric, $10, $11::numeric, $12, $13)
		ON CONFLICT (collection, asset_id, round) DO UPDATE SET
			seller = EXCLUDED.seller,
			floor_price = EXCLUDED.floor_price,
			deadline = EXCLUDED.deadline,
			status = EXCLUDED.status,
			highest_bidder = EXCLUDED.highest_bidder,
			highest_bid_price = EXCLUDED.highest_bid_price,
			picked_at = EXCLUDED.picked_at,
			token_id = EXCLUDED.token_id,
			updated_at = EXCLUDED.updated_at`,
		addrString(rec.Collection),
		string(rec.AssetID),
		int64(rec.Round),
		addrString(rec.Seller),
		numeric(rec.FloorPrice),
		rec.Deadline.UTC(),
		rec.Status.String(),
		bidder,
		numeric(rec.HighestBidPrice),
		picked,
		numeric(rec.TokenID),
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row scanner) (auction.Record, error) {
	var (
		rec                    auction.Record
		collection, assetID    string
		seller, status, bidder string
		floor                  string
		round                  int64
		highest, tokenID       sql.NullString
		picked                 sql.NullTime
	)
	if err := row.Scan(&collection, &assetID, &round, &seller, &floor, &rec.Deadline, &status,
		&bidder, &highest, &picked, &tokenID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return auction.Record{}, err
	}
	rec.Collection = common.HexToAddress(collection)
	rec.AssetID = auction.AssetID(assetID)
	rec.Round = uint64(round)
	rec.Seller = common.HexToAddress(seller)
	st, err := auction.StatusByString(status)
	if err != nil {
		return auction.Record{}, err
	}
	rec.Status = st
	if bidder != "" {
		rec.HighestBidder = common.HexToAddress(bidder)
	}
	if picked.Valid {
		rec.PickedAt = picked.Time
	}
	var ok bool
	if rec.FloorPrice, ok = new(big.Int).SetString(floor, 10); !ok {
		return auction.Record{}, fmt.Errorf("parsing floor price %q", floor)
	}
	if highest.Valid {
		if rec.HighestBidPrice, ok = new(big.Int).SetString(highest.String, 10); !ok {
			return auction.Record{}, fmt.Errorf("parsing highest bid price %q", highest.String)
		}
	}
	if tokenID.Valid {
		if rec.TokenID, ok = new(big.Int).SetString(tokenID.String, 10); !ok {
			return auction.Record{}, fmt.Errorf("parsing token id %q", tokenID.String)
		}
	}
	return rec, nil
}

func numeric(i *big.Int) sql.NullString {
	if i == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: i.String(), Valid: true}
}

func addrString(a common.Address) string {
	return strings.ToLower(a.Hex())
}
