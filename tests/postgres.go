// Package tests holds helpers shared by package tests.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v4"
	_ "github.com/jackc/pgx/v4/stdlib" /*nolint*/
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// PostgresURL starts or gets a postgres server URL for test. When the PG_URL envvar is set,
// a fresh database is created on that server; otherwise a postgres container is started
// with dockertest. The returned func releases the resources.
func PostgresURL() (string, func(), error) {
	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		return startPostgres()
	}
	cfg, err := pgx.ParseConfig(pgURL)
	if err != nil {
		return "", nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = conn.Close(ctx) }()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var dbName string
	for i := 0; ; i++ {
		dbName = fmt.Sprintf("db%d", r.Uint64())
		_, err = conn.Exec(ctx, "CREATE DATABASE "+dbName+";")
		if err == nil {
			break
		}
		if i >= 10 {
			return "", nil, err
		}
	}
	u, err := url.Parse(pgURL)
	if err != nil {
		return "", nil, err
	}
	u.Path = dbName
	return withUTC(u), func() {}, nil
}

func startPostgres() (string, func(), error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return "", nil, fmt.Errorf("creating docker pool: %v", err)
	}
	pool.MaxWait = time.Minute
	res, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "13",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=lazyauction",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", nil, fmt.Errorf("starting postgres: %v", err)
	}
	_ = res.Expire(300)
	cleanup := func() { _ = pool.Purge(res) }

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword("postgres", "postgres"),
		Host:   res.GetHostPort("5432/tcp"),
		Path:   "lazyauction",
	}
	uri := withUTC(u)
	if err := pool.Retry(func() error {
		db, err := sql.Open("pgx", uri)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.Ping()
	}); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("waiting for postgres: %v", err)
	}
	return uri, cleanup, nil
}

func withUTC(u *url.URL) string {
	q := u.Query()
	q.Set("timezone", "UTC")
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
