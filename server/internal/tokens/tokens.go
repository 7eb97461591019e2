// tokens.go - Bearer token issuance.
// Copyright (C) 2026  David Stainton.
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

// Package tokens issues rate limited bearer tokens, and exchanges them for
// blind signatures.
package tokens

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/server/internal/glue"
	"github.com/katzenpost/broker/server/internal/instrument"
	"github.com/katzenpost/broker/server/internal/store"
)

const bearerSize = 32

var bearerEncoding = base64.RawURLEncoding

type limiters struct {
	cache *lru.Cache[uint64, *rate.Limiter]
	limit rate.Limit
	burst int
}

func newLimiters(size int, perMinute float64, burst int) (*limiters, error) {
	cache, err := lru.New[uint64, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &limiters{
		cache: cache,
		limit: rate.Limit(perMinute / 60),
		burst: burst,
	}, nil
}

func (l *limiters) allow(userID uint64) bool {
	lim, ok := l.cache.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		if prev, ok, _ := l.cache.PeekOrAdd(userID, lim); ok {
			lim = prev
		}
	}
	return lim.Allow()
}

// Issuer is the token issuer.
type Issuer struct {
	glue glue.Glue
	log  *logging.Logger

	authLimiters    *limiters
	connectLimiters *limiters
	lifetime        time.Duration

	now func() time.Time
}

// IssueBearer maps credential to its user, and mints a bearer token for
// that user unless the user is being rate limited.
func (i *Issuer) IssueBearer(ctx context.Context, credential *protocol.Credential) (string, error) {
	userID, err := credential.UserID()
	if err != nil {
		return "", err
	}
	if !i.authLimiters.allow(userID) {
		instrument.RateLimited("auth_token")
		return "", protocol.ErrRateLimited
	}

	var raw [bearerSize]byte
	if _, err = io.ReadFull(rand.Reader, raw[:]); err != nil {
		return "", err
	}
	token := bearerEncoding.EncodeToString(raw[:])

	expiry := i.now().Add(i.lifetime).Unix()
	if err = i.glue.Store().PutAuthToken(ctx, token, userID, expiry); err != nil {
		i.log.Warningf("Failed to store bearer token: %v", err)
		return "", protocol.ErrRateLimited
	}

	instrument.AuthTokenIssued()
	return token, nil
}

// Exchange blind signs blinded under level's subkey for epoch, on behalf
// of the holder of a valid bearer token.  The blinded token is neither
// logged nor retained.
func (i *Issuer) Exchange(ctx context.Context, bearer string, level protocol.AccountLevel, epoch uint16, blinded blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: invalid account level", protocol.ErrForbidden)
	}
	if raw, err := bearerEncoding.DecodeString(bearer); err != nil || len(raw) != bearerSize {
		return nil, fmt.Errorf("%w: malformed bearer token", protocol.ErrForbidden)
	}

	userID, err := i.glue.Store().AuthTokenUser(ctx, bearer, i.now().Unix())
	switch {
	case errors.Is(err, store.ErrNoSuchToken):
		return nil, protocol.ErrForbidden
	case err != nil:
		// Storage faults are not the caller's business.
		i.log.Warningf("Failed to validate bearer token: %v", err)
		return nil, protocol.ErrRateLimited
	}

	if !i.connectLimiters.allow(userID) {
		instrument.RateLimited("connect_token")
		return nil, protocol.ErrRateLimited
	}

	sig, err := i.glue.Keyring().BlindSign(level, epoch, blinded)
	if err != nil {
		return nil, protocol.NewGenericError("invalid blinded token")
	}
	instrument.ConnectTokenIssued(level.String())
	return sig, nil
}

// Prune deletes expired bearer tokens.
func (i *Issuer) Prune(ctx context.Context) error {
	n, err := i.glue.Store().PruneAuthTokens(ctx, i.now().Unix())
	if err != nil {
		return err
	}
	if n > 0 {
		i.log.Debugf("Pruned %d expired bearer tokens.", n)
	}
	return nil
}

// New constructs a new Issuer.
func New(g glue.Glue) (*Issuer, error) {
	cfg := g.Config().Tokens

	authLimiters, err := newLimiters(cfg.LimiterCacheSize, cfg.AuthTokenRatePerMinute, cfg.AuthTokenBurst)
	if err != nil {
		return nil, err
	}
	connectLimiters, err := newLimiters(cfg.LimiterCacheSize, cfg.ConnectTokenRatePerMinute, cfg.ConnectTokenBurst)
	if err != nil {
		return nil, err
	}

	return &Issuer{
		glue:            g,
		log:             g.LogBackend().GetLogger("tokens"),
		authLimiters:    authLimiters,
		connectLimiters: connectLimiters,
		lifetime:        time.Duration(cfg.AuthTokenLifetimeSec) * time.Second,
		now:             time.Now,
	}, nil
}
