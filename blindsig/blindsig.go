// blindsig.go - Epoch rotated RSA blind signatures.
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

// Package blindsig implements the anonymous credential scheme: RFC 9474
// RSA blind signatures under per-epoch subkeys, with each subkey certified
// by a long term Ed25519 master key so that clients can check subkeys
// without asking the broker.
package blindsig

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/cloudflare/circl/blindsign/blindrsa"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/hpqc/sign"
	"github.com/katzenpost/hpqc/sign/ed25519"
)

const (
	// SeedSize is the size of a SecretKey seed in bytes.
	SeedSize = 32

	// TokenSize is the size of a ClientToken in bytes.
	TokenSize = 32

	// DefaultSubkeyBits is the default RSA modulus size of subkeys.
	DefaultSubkeyBits = 2048

	// MinSubkeyBits is the smallest RSA modulus size accepted.
	MinSubkeyBits = 1024

	// DomainSubkey separates master key signatures over subkeys.
	DomainSubkey = "blindsig-subkey"

	masterContext = "katzenpost broker 2026 blindsig master key"
	subkeyContext = "katzenpost broker 2026 blindsig subkey"

	subkeyCacheSize = 64
)

// Variant is the RFC 9474 variant used for every subkey.
const Variant = blindrsa.SHA384PSSDeterministic

var (
	// ErrInvalidSignature is returned when a credential does not verify.
	ErrInvalidSignature = errors.New("blindsig: invalid signature")

	// ErrInvalidSubkey is returned when a subkey is malformed or is not
	// certified by the master key.
	ErrInvalidSubkey = errors.New("blindsig: invalid subkey")

	errInvalidSeed = errors.New("blindsig: invalid seed size")
	errInvalidBits = errors.New("blindsig: invalid subkey size")
)

// ClientToken is the random value a client gets blind signed.
type ClientToken [TokenSize]byte

// BlindedClientToken is a ClientToken blinded for a particular subkey.
type BlindedClientToken []byte

// BlindedSignature is the signer's output over a BlindedClientToken.
type BlindedSignature struct {
	Epoch      uint16
	UsedKey    []byte
	UsedKeySig []byte
	BlindedSig []byte
}

// UnblindedSignature is a signature over a ClientToken, unlinkable to the
// BlindedSignature it was derived from.
type UnblindedSignature struct {
	Epoch      uint16
	UsedKey    []byte
	UsedKeySig []byte
	Sig        []byte
}

type subkey struct {
	sk  *rsa.PrivateKey
	der []byte
	sig []byte
}

// SecretKey is a blind signing key family.  Subkeys for every epoch are
// derived deterministically from the seed.
type SecretKey struct {
	seed [SeedSize]byte
	bits int

	master sign.PrivateKey
	pub    *PublicKey

	cache  *lru.Cache[uint16, *subkey]
	flight singleflight.Group
}

// NewSecretKey returns the SecretKey for seed, with subkeys of the given
// modulus size.
func NewSecretKey(seed []byte, bits int) (*SecretKey, error) {
	if len(seed) != SeedSize {
		return nil, errInvalidSeed
	}
	if bits < MinSubkeyBits || bits%16 != 0 {
		return nil, fmt.Errorf("%w: %d", errInvalidBits, bits)
	}

	sk := &SecretKey{
		bits: bits,
	}
	copy(sk.seed[:], seed)

	var masterSeed [ed25519.KeySeedSize]byte
	blake3.DeriveKey(masterContext, sk.seed[:], masterSeed[:])
	masterPub, master := ed25519.Scheme().DeriveKey(masterSeed[:])
	sk.master = master
	sk.pub = &PublicKey{master: masterPub}

	var err error
	if sk.cache, err = lru.New[uint16, *subkey](subkeyCacheSize); err != nil {
		return nil, err
	}
	return sk, nil
}

// GenerateSecretKey returns a SecretKey with a fresh random seed.
func GenerateSecretKey(bits int) (*SecretKey, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	return NewSecretKey(seed, bits)
}

// Seed returns a copy of the seed the key family is derived from.
func (sk *SecretKey) Seed() []byte {
	return append([]byte{}, sk.seed[:]...)
}

// PublicKey returns the public half of the master key.
func (sk *SecretKey) PublicKey() *PublicKey {
	return sk.pub
}

// SubkeyPublicKey returns the PKCS #1 DER encoded subkey for epoch.
func (sk *SecretKey) SubkeyPublicKey(epoch uint16) ([]byte, error) {
	k, err := sk.getSubkey(epoch)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, k.der...), nil
}

// BlindSign signs a blinded token under the subkey for epoch.  The blinded
// token is not retained.
func (sk *SecretKey) BlindSign(epoch uint16, blinded BlindedClientToken) (*BlindedSignature, error) {
	k, err := sk.getSubkey(epoch)
	if err != nil {
		return nil, err
	}
	sig, err := blindrsa.NewSigner(k.sk).BlindSign(blinded)
	if err != nil {
		return nil, fmt.Errorf("blindsig: failed to sign: %w", err)
	}
	return &BlindedSignature{
		Epoch:      epoch,
		UsedKey:    k.der,
		UsedKeySig: k.sig,
		BlindedSig: sig,
	}, nil
}

func (sk *SecretKey) getSubkey(epoch uint16) (*subkey, error) {
	if k, ok := sk.cache.Get(epoch); ok {
		return k, nil
	}
	v, err, _ := sk.flight.Do(strconv.Itoa(int(epoch)), func() (interface{}, error) {
		k, err := sk.deriveSubkey(epoch)
		if err != nil {
			return nil, err
		}
		sk.cache.Add(epoch, k)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*subkey), nil
}

func (sk *SecretKey) deriveSubkey(epoch uint16) (*subkey, error) {
	var material [SeedSize + 2]byte
	copy(material[:], sk.seed[:])
	binary.BigEndian.PutUint16(material[SeedSize:], epoch)

	var key [32]byte
	blake3.DeriveKey(subkeyContext, material[:], key[:])
	r, err := rand.NewDeterministicRandReader(key[:])
	if err != nil {
		return nil, err
	}

	rsaKey, err := deriveRSAKey(r, sk.bits)
	if err != nil {
		return nil, err
	}
	der := x509.MarshalPKCS1PublicKey(&rsaKey.PublicKey)
	return &subkey{
		sk:  rsaKey,
		der: der,
		sig: sk.master.Scheme().Sign(sk.master, subkeyMessage(epoch, der), nil),
	}, nil
}

// PublicKey is the public half of a key family's master key.
type PublicKey struct {
	master sign.PublicKey
}

// NewPublicKey deserializes a PublicKey.
func NewPublicKey(b []byte) (*PublicKey, error) {
	pk, err := ed25519.Scheme().UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{master: pk}, nil
}

// Bytes returns the serialized PublicKey.
func (pk *PublicKey) Bytes() []byte {
	b, err := pk.master.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// Equal returns true iff both keys are the same.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	return pk.master.Equal(other.master)
}

// VerifySubkey checks that der is the subkey for epoch certified by pk, and
// returns it parsed.
func (pk *PublicKey) VerifySubkey(epoch uint16, der, sig []byte) (*rsa.PublicKey, error) {
	if !pk.master.Scheme().Verify(pk.master, subkeyMessage(epoch, der), sig, nil) {
		return nil, ErrInvalidSubkey
	}
	subPub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubkey, err)
	}
	return subPub, nil
}

// BlindVerify checks that sig is a valid credential for token under this
// key family.
func (pk *PublicKey) BlindVerify(token ClientToken, sig *UnblindedSignature) error {
	if sig == nil {
		return ErrInvalidSignature
	}
	subPub, err := pk.VerifySubkey(sig.Epoch, sig.UsedKey, sig.UsedKeySig)
	if err != nil {
		return err
	}
	verifier, err := blindrsa.NewVerifier(Variant, subPub)
	if err != nil {
		return err
	}
	if err := verifier.Verify(token[:], sig.Sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func subkeyMessage(epoch uint16, der []byte) []byte {
	var e [2]byte
	binary.BigEndian.PutUint16(e[:], epoch)

	h := blake3.New()
	h.WriteString(DomainSubkey)
	h.Write([]byte{0})
	h.Write(e[:])
	h.Write(der)
	return h.Sum(nil)
}
