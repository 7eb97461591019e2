// keyring.go - Broker signing keys.
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

// Package keyring holds the broker's long term key material: one blind
// signing key family per account level, and the master key the exit
// catalog is signed with.
package keyring

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/ed25519"
	signpem "github.com/katzenpost/hpqc/sign/pem"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/core/epochtime"
	"github.com/katzenpost/broker/core/utils"
	"github.com/katzenpost/broker/protocol"
)

const (
	seedPEMType = "BLINDSIG SEED"

	freeSeedFile         = "free.seed.pem"
	plusSeedFile         = "plus.seed.pem"
	masterPrivateKeyFile = "master.private.pem"
	masterPublicKeyFile  = "master.public.pem"
)

var (
	errSameSeeds = errors.New("keyring: free and plus key families share a seed")
	errStale     = errors.New("keyring: credential epoch out of range")
)

// Keyring is the broker's key material.  It is read only after New
// returns, and safe for concurrent use.
type Keyring struct {
	log *logging.Logger

	free *blindsig.SecretKey
	plus *blindsig.SecretKey

	masterKey sign.PrivateKey
	masterPub sign.PublicKey

	maxEpochSkew int
	epoch        func() uint16
}

// SubkeyPublicKey returns the PKCS #1 DER encoded subkey of level for epoch.
func (k *Keyring) SubkeyPublicKey(level protocol.AccountLevel, epoch uint16) []byte {
	der, err := k.family(level).SubkeyPublicKey(epoch)
	if err != nil {
		// Subkeys are derived from validated seeds, so this is a
		// misconfiguration rather than a client error.
		panic(fmt.Sprintf("keyring: failed to derive %v subkey for epoch %d: %v", level, epoch, err))
	}
	return der
}

// BlindSign signs blinded under the subkey of level for epoch.
func (k *Keyring) BlindSign(level protocol.AccountLevel, epoch uint16, blinded blindsig.BlindedClientToken) (*blindsig.BlindedSignature, error) {
	return k.family(level).BlindSign(epoch, blinded)
}

// PublicKey returns the master public key of level's key family.
func (k *Keyring) PublicKey(level protocol.AccountLevel) *blindsig.PublicKey {
	return k.family(level).PublicKey()
}

// Authenticate checks an unblinded credential, first against the Plus key
// family and then against the Free one, and returns the level it verified
// under.  The families have distinct seeds, so no credential verifies under
// both; if one ever did, Plus wins.
func (k *Keyring) Authenticate(token blindsig.ClientToken, sig *blindsig.UnblindedSignature) (protocol.AccountLevel, error) {
	if sig == nil {
		return 0, protocol.ErrAuthenticationFailed
	}
	if k.maxEpochSkew >= 0 && int(epochtime.Distance(sig.Epoch, k.epoch())) > k.maxEpochSkew {
		return 0, fmt.Errorf("%w: %v", protocol.ErrAuthenticationFailed, errStale)
	}
	if k.plus.PublicKey().BlindVerify(token, sig) == nil {
		return protocol.Plus, nil
	}
	if k.free.PublicKey().BlindVerify(token, sig) == nil {
		return protocol.Free, nil
	}
	return 0, protocol.ErrAuthenticationFailed
}

// MasterKey returns the broker master signing key.
func (k *Keyring) MasterKey() sign.PrivateKey {
	return k.masterKey
}

// MasterPublicKey returns the broker master public key.
func (k *Keyring) MasterPublicKey() sign.PublicKey {
	return k.masterPub
}

func (k *Keyring) family(level protocol.AccountLevel) *blindsig.SecretKey {
	switch level {
	case protocol.Free:
		return k.free
	case protocol.Plus:
		return k.plus
	default:
		panic(fmt.Sprintf("keyring: BUG: invalid account level: %v", level))
	}
}

// New loads the broker key material from dataDir, generating any that is
// missing.  maxEpochSkew bounds how far a credential's epoch may be from
// the current one; negative values disable the check.
func New(dataDir string, subkeyBits, maxEpochSkew int, log *logging.Logger) (*Keyring, error) {
	k := &Keyring{
		log:          log,
		maxEpochSkew: maxEpochSkew,
		epoch:        epochtime.Current,
	}

	var err error
	if k.free, err = loadOrGenerateSeed(filepath.Join(dataDir, freeSeedFile), subkeyBits, log); err != nil {
		return nil, err
	}
	if k.plus, err = loadOrGenerateSeed(filepath.Join(dataDir, plusSeedFile), subkeyBits, log); err != nil {
		return nil, err
	}
	if bytes.Equal(k.free.Seed(), k.plus.Seed()) {
		return nil, errSameSeeds
	}

	scheme := ed25519.Scheme()
	privFile := filepath.Join(dataDir, masterPrivateKeyFile)
	pubFile := filepath.Join(dataDir, masterPublicKeyFile)

	havePair, err := utils.PairExists(privFile, pubFile)
	if err != nil {
		return nil, err
	}
	if havePair {
		k.masterKey, err = signpem.FromPrivatePEMFile(privFile, scheme)
		if err != nil {
			return nil, err
		}
		k.masterPub, err = signpem.FromPublicPEMFile(pubFile, scheme)
		if err != nil {
			return nil, err
		}
		if !k.masterPub.Equal(k.masterKey.Public()) {
			return nil, fmt.Errorf("keyring: %s does not match %s", pubFile, privFile)
		}
	} else {
		k.masterPub, k.masterKey, err = scheme.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err = signpem.PrivateKeyToFile(privFile, k.masterKey); err != nil {
			return nil, err
		}
		if err = signpem.PublicKeyToFile(pubFile, k.masterPub); err != nil {
			return nil, err
		}
		log.Noticef("Generated new master key: %s", pubFile)
	}

	return k, nil
}

func loadOrGenerateSeed(f string, subkeyBits int, log *logging.Logger) (*blindsig.SecretKey, error) {
	ok, err := utils.Exists(f)
	if err != nil {
		return nil, err
	}
	if ok {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		blk, _ := pem.Decode(b)
		if blk == nil || blk.Type != seedPEMType {
			return nil, fmt.Errorf("keyring: %s is not a %s PEM file", f, seedPEMType)
		}
		return blindsig.NewSecretKey(blk.Bytes, subkeyBits)
	}

	sk, err := blindsig.GenerateSecretKey(subkeyBits)
	if err != nil {
		return nil, err
	}
	b := pem.EncodeToMemory(&pem.Block{Type: seedPEMType, Bytes: sk.Seed()})
	if err = utils.WriteFileAtomic(f, b); err != nil {
		return nil, err
	}
	log.Noticef("Generated new blind signing key family: %s", f)
	return sk, nil
}
