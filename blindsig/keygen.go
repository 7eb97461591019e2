// keygen.go - Deterministic RSA subkey derivation.
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

package blindsig

import (
	"crypto/rsa"
	"io"
	"math/big"
)

const (
	publicExponent = 65537
	primeRounds    = 20
)

var bigOne = big.NewInt(1)

// deriveRSAKey builds an RSA key of exactly bits bits, consuming randomness
// only from r, so that the same stream always yields the same key.
func deriveRSAKey(r io.Reader, bits int) (*rsa.PrivateKey, error) {
	e := big.NewInt(publicExponent)
	for {
		p, err := derivePrime(r, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := derivePrime(r, bits/2)
		if err != nil {
			return nil, err
		}
		if p.Cmp(q) == 0 {
			continue
		}

		n := new(big.Int).Mul(p, q)
		if n.BitLen() != bits {
			continue
		}

		pm1 := new(big.Int).Sub(p, bigOne)
		qm1 := new(big.Int).Sub(q, bigOne)
		phi := new(big.Int).Mul(pm1, qm1)
		d := new(big.Int).ModInverse(e, phi)
		if d == nil {
			continue
		}

		return &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{
				N: n,
				E: publicExponent,
			},
			D:      d,
			Primes: []*big.Int{p, q},
		}, nil
	}
}

// derivePrime reads candidates of bits bits from r until one is probably
// prime.  bits must be a multiple of 8.
func derivePrime(r io.Reader, bits int) (*big.Int, error) {
	b := make([]byte, bits/8)
	p := new(big.Int)
	for {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		// Setting the top two bits makes the product of two such primes
		// exactly twice as long.
		b[0] |= 0xc0
		b[len(b)-1] |= 1

		p.SetBytes(b)
		if p.ProbablyPrime(primeRounds) {
			return p, nil
		}
	}
}
