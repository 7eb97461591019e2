// keyring_test.go - Broker signing key tests.
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

package keyring

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/blindsig"
	"github.com/katzenpost/broker/protocol"
)

const testBits = 1024

func newTestKeyring(t *testing.T, dir string) *Keyring {
	k, err := New(dir, testBits, 1, logging.MustGetLogger("keyring"))
	require.NoError(t, err)
	k.epoch = func() uint16 { return 1000 }
	return k
}

func credential(t *testing.T, k *Keyring, level protocol.AccountLevel, epoch uint16) (blindsig.ClientToken, *blindsig.UnblindedSignature) {
	require := require.New(t)

	var token blindsig.ClientToken
	_, err := rand.Read(token[:])
	require.NoError(err)

	blinded, state, err := blindsig.Blind(rand.Reader, k.SubkeyPublicKey(level, epoch), epoch, token)
	require.NoError(err)
	blindSig, err := k.BlindSign(level, epoch, blinded)
	require.NoError(err)
	sig, err := state.Unblind(blindSig)
	require.NoError(err)
	return token, sig
}

func TestLoadOrGenerate(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	k1 := newTestKeyring(t, dir)
	for _, f := range []string{freeSeedFile, plusSeedFile, masterPrivateKeyFile, masterPublicKeyFile} {
		require.FileExists(filepath.Join(dir, f))
	}

	k2 := newTestKeyring(t, dir)
	require.True(k1.MasterPublicKey().Equal(k2.MasterPublicKey()))
	require.True(k1.PublicKey(protocol.Free).Equal(k2.PublicKey(protocol.Free)))
	require.True(k1.PublicKey(protocol.Plus).Equal(k2.PublicKey(protocol.Plus)))
	require.False(k1.PublicKey(protocol.Free).Equal(k1.PublicKey(protocol.Plus)))
	require.Equal(k1.SubkeyPublicKey(protocol.Plus, 3), k2.SubkeyPublicKey(protocol.Plus, 3))

	require.NoError(os.Remove(filepath.Join(dir, masterPublicKeyFile)))
	_, err := New(dir, testBits, 1, logging.MustGetLogger("keyring"))
	require.Error(err)
}

func TestSharedSeedRejected(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	newTestKeyring(t, dir)
	b, err := os.ReadFile(filepath.Join(dir, freeSeedFile))
	require.NoError(err)
	require.NoError(os.WriteFile(filepath.Join(dir, plusSeedFile), b, 0600))

	_, err = New(dir, testBits, 1, logging.MustGetLogger("keyring"))
	require.ErrorIs(err, errSameSeeds)
}

func TestAuthenticate(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t, t.TempDir())

	token, sig := credential(t, k, protocol.Plus, 1000)
	level, err := k.Authenticate(token, sig)
	require.NoError(err)
	require.Equal(protocol.Plus, level)

	token, sig = credential(t, k, protocol.Free, 999)
	level, err = k.Authenticate(token, sig)
	require.NoError(err)
	require.Equal(protocol.Free, level)

	other := token
	other[0] ^= 1
	_, err = k.Authenticate(other, sig)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)

	_, err = k.Authenticate(token, nil)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)

	token, sig = credential(t, k, protocol.Free, 990)
	_, err = k.Authenticate(token, sig)
	require.ErrorIs(err, protocol.ErrAuthenticationFailed)

	k.maxEpochSkew = -1
	_, err = k.Authenticate(token, sig)
	require.NoError(err)
}

func TestPlusWinsTieBreak(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t, t.TempDir())

	// A credential can only verify under both families if they share a
	// seed, which New refuses.  Force it to pin down which level wins.
	k.free = k.plus
	token, sig := credential(t, k, protocol.Free, 1000)
	level, err := k.Authenticate(token, sig)
	require.NoError(err)
	require.Equal(protocol.Plus, level)
}

func TestFamiliesDisjoint(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t, t.TempDir())

	token, sig := credential(t, k, protocol.Free, 1000)
	require.NoError(k.PublicKey(protocol.Free).BlindVerify(token, sig))
	require.Error(k.PublicKey(protocol.Plus).BlindVerify(token, sig))

	token, sig = credential(t, k, protocol.Plus, 1000)
	require.NoError(k.PublicKey(protocol.Plus).BlindVerify(token, sig))
	require.Error(k.PublicKey(protocol.Free).BlindVerify(token, sig))
}
