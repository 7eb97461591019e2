// protocol_test.go - Protocol tests.
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

package protocol

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/sign/ed25519"
)

func testExitDescriptor() *ExitDescriptor {
	return &ExitDescriptor{
		C2EListen: netip.MustParseAddrPort("192.0.2.1:443"),
		B2EListen: netip.MustParseAddrPort("[2001:db8::1]:8443"),
		Country:   "CA",
		City:      "Montreal",
		Load:      0.25,
		Expiry:    1700000000,
	}
}

func TestMac(t *testing.T) {
	require := require.New(t)

	key := MacKey("exit token")
	require.NotEqual(key, MacKey("bridge token"))

	desc := testExitDescriptor()
	m, err := NewMac(desc, key)
	require.NoError(err)

	out, err := m.Verify(key)
	require.NoError(err)
	require.Equal(desc, out)

	_, err = m.Verify(MacKey("wrong token"))
	require.ErrorIs(err, ErrAuthenticationFailed)

	tampered := *m
	tampered.Body = append([]byte{}, m.Body...)
	tampered.Body[len(tampered.Body)-1] ^= 1
	_, err = tampered.Verify(key)
	require.ErrorIs(err, ErrAuthenticationFailed)

	junk := &Mac[ExitDescriptor]{Body: []byte{0xff, 0x00}}
	junk.Tag = macTag(key, junk.Body)
	_, err = junk.Verify(key)
	require.Error(err)
	var generic *GenericError
	require.ErrorAs(err, &generic)
}

func TestSigned(t *testing.T) {
	require := require.New(t)

	pk, sk, err := ed25519.Scheme().GenerateKey()
	require.NoError(err)
	otherPk, _, err := ed25519.Scheme().GenerateKey()
	require.NoError(err)

	desc := testExitDescriptor()
	s, err := NewSigned(desc, DomainExitDescriptor, sk)
	require.NoError(err)

	out, err := s.Verify(DomainExitDescriptor, nil)
	require.NoError(err)
	require.Equal(desc, out)

	_, err = s.Verify(DomainExitDescriptor, SignedBy(pk))
	require.NoError(err)
	_, err = s.Verify(DomainExitDescriptor, SignedBy(otherPk))
	require.ErrorIs(err, ErrAuthenticationFailed)

	_, err = s.Verify(DomainExitList, nil)
	require.ErrorIs(err, ErrAuthenticationFailed)

	forged := *s
	forged.PublicKey, err = otherPk.MarshalBinary()
	require.NoError(err)
	_, err = forged.Verify(DomainExitDescriptor, nil)
	require.ErrorIs(err, ErrAuthenticationFailed)

	forged = *s
	forged.PublicKey = []byte("short")
	_, err = forged.Verify(DomainExitDescriptor, nil)
	require.ErrorIs(err, ErrAuthenticationFailed)
}

func TestMacOverSigned(t *testing.T) {
	require := require.New(t)

	_, sk, err := ed25519.Scheme().GenerateKey()
	require.NoError(err)

	s, err := NewSigned(testExitDescriptor(), DomainExitDescriptor, sk)
	require.NoError(err)
	m, err := NewMac(s, MacKey("exit token"))
	require.NoError(err)

	b, err := Marshal(m)
	require.NoError(err)
	decoded := new(Mac[Signed[ExitDescriptor]])
	require.NoError(Unmarshal(b, decoded))

	inner, err := decoded.Verify(MacKey("exit token"))
	require.NoError(err)
	desc, err := inner.Verify(DomainExitDescriptor, nil)
	require.NoError(err)
	require.Equal(testExitDescriptor(), desc)
}

func TestParseCountry(t *testing.T) {
	require := require.New(t)

	c, err := ParseCountry("us")
	require.NoError(err)
	require.Equal("US", c)

	for _, bad := range []string{"", "USA", "ZZ", "1"} {
		_, err = ParseCountry(bad)
		require.Error(err, bad)
	}

	desc := testExitDescriptor()
	require.NoError(desc.Validate())
	desc.Country = "ca"
	require.Error(desc.Validate())
	desc.Country = "CA"
	desc.C2EListen = netip.AddrPort{}
	require.Error(desc.Validate())
}

func TestCredential(t *testing.T) {
	require := require.New(t)

	id, err := (&Credential{Kind: CredentialTestDummy}).UserID()
	require.NoError(err)
	require.Equal(TestDummyUserID, id)

	_, err = (&Credential{Kind: 200}).UserID()
	require.ErrorIs(err, ErrForbidden)

	require.True(Plus.Valid())
	require.False(AccountLevel(9).Valid())
	require.Equal("plus", Plus.String())
}
