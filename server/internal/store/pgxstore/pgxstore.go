// pgxstore.go - Postgresql backed broker store.
// Copyright (C) 2018  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package pgxstore implements the broker store on top of Postgresql.
package pgxstore

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/server/internal/store"
)

const (
	pgxTagExitUpsert      = "exit_upsert"
	pgxTagExitsGet        = "exits_get"
	pgxTagBridgeUpsert    = "bridge_upsert"
	pgxTagBridgesGet      = "bridges_get"
	pgxTagAuthTokenPut    = "auth_token_put"
	pgxTagAuthTokenGet    = "auth_token_get"
	pgxTagAuthTokensPrune = "auth_tokens_prune"

	pgxSchemaVersion = 0
)

//go:embed schema.sql
var schema string

type pgxStore struct {
	log  *logging.Logger
	pool *pgx.ConnPool
}

func (p *pgxStore) UpsertExit(ctx context.Context, e *store.ExitRow) error {
	_, err := p.pool.ExecEx(ctx, pgxTagExitUpsert, nil,
		e.PubKey, e.C2EListen, e.B2EListen, e.Country, e.City, e.Load, e.Expiry)
	return err
}

func (p *pgxStore) Exits(ctx context.Context) ([]*store.ExitRow, error) {
	rows, err := p.pool.QueryEx(ctx, pgxTagExitsGet, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exits []*store.ExitRow
	for rows.Next() {
		e := new(store.ExitRow)
		if err = rows.Scan(&e.PubKey, &e.C2EListen, &e.B2EListen, &e.Country, &e.City, &e.Load, &e.Expiry); err != nil {
			return nil, err
		}
		exits = append(exits, e)
	}
	return exits, rows.Err()
}

func (p *pgxStore) UpsertBridge(ctx context.Context, b *store.BridgeRow) error {
	_, err := p.pool.ExecEx(ctx, pgxTagBridgeUpsert, nil, b.Listen, b.Cookie, b.Pool, b.Expiry)
	return err
}

func (p *pgxStore) Bridges(ctx context.Context, now int64) ([]*store.BridgeRow, error) {
	rows, err := p.pool.QueryEx(ctx, pgxTagBridgesGet, nil, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bridges []*store.BridgeRow
	for rows.Next() {
		b := new(store.BridgeRow)
		if err = rows.Scan(&b.Listen, &b.Cookie, &b.Pool, &b.Expiry); err != nil {
			return nil, err
		}
		bridges = append(bridges, b)
	}
	return bridges, rows.Err()
}

func (p *pgxStore) PutAuthToken(ctx context.Context, token string, userID uint64, expiry int64) error {
	_, err := p.pool.ExecEx(ctx, pgxTagAuthTokenPut, nil, token, int64(userID), expiry)
	return err
}

func (p *pgxStore) AuthTokenUser(ctx context.Context, token string, now int64) (uint64, error) {
	var userID int64
	err := p.pool.QueryRowEx(ctx, pgxTagAuthTokenGet, nil, token, now).Scan(&userID)
	switch {
	case err == pgx.ErrNoRows:
		return 0, store.ErrNoSuchToken
	case err != nil:
		return 0, err
	default:
		return uint64(userID), nil
	}
}

func (p *pgxStore) PruneAuthTokens(ctx context.Context, now int64) (int, error) {
	tag, err := p.pool.ExecEx(ctx, pgxTagAuthTokensPrune, nil, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgxStore) Close() {
	p.pool.Close()
}

func (p *pgxStore) Log(level pgx.LogLevel, msg string, data map[string]interface{}) {
	if level == pgx.LogLevelNone {
		return
	}

	argVec := make([]interface{}, 0, 1+len(data))
	argVec = append(argVec, msg+" ")
	for k, v := range data {
		argVec = append(argVec, fmt.Sprintf("%s=%v ", k, v))
	}
	mStr := strings.TrimSpace(fmt.Sprint(argVec...))

	switch level {
	case pgx.LogLevelDebug:
		p.log.Debug(mStr)
	case pgx.LogLevelInfo:
		p.log.Info(mStr)
	case pgx.LogLevelWarn:
		p.log.Warning(mStr)
	case pgx.LogLevelError:
		p.log.Error(mStr)
	}
}

func (p *pgxStore) initSchema() error {
	const metadataQuery = "SELECT schema_version FROM broker_metadata LIMIT 1;"

	if _, err := p.pool.Exec(schema); err != nil {
		return fmt.Errorf("pgxstore: failed to apply schema: %v", err)
	}

	var schemaVersion int
	err := p.pool.QueryRow(metadataQuery).Scan(&schemaVersion)
	switch {
	case err == pgx.ErrNoRows:
		_, err = p.pool.Exec("INSERT INTO broker_metadata (schema_version) VALUES ($1);", pgxSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("pgxstore: metadata query failed: %v", err)
	case schemaVersion != pgxSchemaVersion:
		return fmt.Errorf("pgxstore: invalid schema version: %v", schemaVersion)
	default:
		return nil
	}
}

func (p *pgxStore) initStatements() error {
	stmts := []struct {
		tag, query string
	}{
		{pgxTagExitUpsert, `INSERT INTO exits_new (pubkey, c2e_listen, b2e_listen, country, city, load, expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (pubkey) DO UPDATE
SET c2e_listen = $2, b2e_listen = $3, country = $4, city = $5, load = $6, expiry = $7;`},
		{pgxTagExitsGet, "SELECT pubkey, c2e_listen, b2e_listen, country, city, load, expiry FROM exits_new;"},
		{pgxTagBridgeUpsert, `INSERT INTO bridges_new (listen, cookie, pool, expiry)
VALUES ($1, $2, $3, $4)
ON CONFLICT (listen) DO UPDATE
SET cookie = $2, pool = $3, expiry = $4;`},
		{pgxTagBridgesGet, "SELECT listen, cookie, pool, expiry FROM bridges_new WHERE expiry > $1;"},
		{pgxTagAuthTokenPut, "INSERT INTO auth_tokens (token, user_id, expiry) VALUES ($1, $2, $3);"},
		{pgxTagAuthTokenGet, "SELECT user_id FROM auth_tokens WHERE token = $1 AND expiry > $2;"},
		{pgxTagAuthTokensPrune, "DELETE FROM auth_tokens WHERE expiry <= $1;"},
	}

	for _, v := range stmts {
		if _, err := p.pool.Prepare(v.tag, v.query); err != nil {
			p.log.Errorf("Failed to prepare statement %v -> %v: %v", v.tag, v.query, err)
			return err
		}
	}

	return nil
}

// New connects to the Postgresql database at dataSourceName, creating the
// broker tables if needed.
func New(dataSourceName string, maxConns int, log *logging.Logger, logLevel string) (store.Store, error) {
	// The pgx connection pool code requires at least 2 conns, and internally
	// will default to 5 if unspecified.
	if maxConns < 5 {
		maxConns = 5
	}

	p := &pgxStore{
		log: log,
	}

	connCfg, err := pgx.ParseConnectionString(dataSourceName)
	if err != nil {
		return nil, err
	}
	connCfg.Logger = p
	connCfg.LogLevel = toPgxLogLevel(logLevel)
	poolCfg := pgx.ConnPoolConfig{
		ConnConfig:     connCfg,
		MaxConnections: maxConns,
	}

	isOk := false
	defer func() {
		if !isOk {
			if p.pool != nil {
				p.pool.Close()
			}
		}
	}()

	if p.pool, err = pgx.NewConnPool(poolCfg); err != nil {
		return nil, err
	}
	if err = p.initSchema(); err != nil {
		return nil, err
	}
	if err = p.initStatements(); err != nil {
		return nil, err
	}

	isOk = true
	return p, nil
}

func toPgxLogLevel(cfgLevel string) pgx.LogLevel {
	switch strings.ToUpper(cfgLevel) {
	case "ERROR":
		return pgx.LogLevelError
	case "WARNING", "NOTICE", "INFO":
		// pgx.LogLevelInfo logs query arguments, which include bearer
		// tokens, so don't expose that unless debugging is enabled.
		return pgx.LogLevelWarn
	case "DEBUG":
		return pgx.LogLevelDebug
	default:
		return pgx.LogLevelWarn
	}
}
