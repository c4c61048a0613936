// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-microledger
//
// go-microledger is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-microledger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-microledger.  If not, see <https://www.gnu.org/licenses/>.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestKeyringSignVerify(t *testing.T) {
	partitiontest.PartitionTest(t)

	kr := MakeKeyring()
	alice := kr.GenerateKey()
	bob := kr.GenerateKey()
	require.True(t, kr.Has(alice))

	env, err := kr.Sign([]byte("hello"), alice)
	require.NoError(t, err)
	require.Equal(t, alice, env.Signer)

	payload, ok := kr.Verify(env, alice)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), payload)

	// right signature, wrong expected signer
	_, ok = kr.Verify(env, bob)
	require.False(t, ok)

	// signer swapped to someone else
	forged := env
	forged.Signer = bob
	_, ok = kr.Verify(forged, bob)
	require.False(t, ok)

	// payload altered after signing
	tampered := env
	tampered.Payload = []byte("hellO")
	_, ok = kr.Verify(tampered, alice)
	require.False(t, ok)
}

func TestKeyringUnknownKey(t *testing.T) {
	partitiontest.PartitionTest(t)

	kr := MakeKeyring()
	other := MakeKeyring().GenerateKey()
	_, err := kr.Sign([]byte("x"), other)
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestImportSeedDeterministic(t *testing.T) {
	partitiontest.PartitionTest(t)

	var seed Seed
	seed[0] = 7
	a := MakeKeyring().ImportSeed(seed)
	b := MakeKeyring().ImportSeed(seed)
	require.Equal(t, a, b)

	parsed, err := PublicKeyFromString(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsed)

	_, err = PublicKeyFromString("abc")
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestSmallOrderKeyRejected(t *testing.T) {
	partitiontest.PartitionTest(t)

	var sig Signature
	for _, p := range smallOrderPoints {
		require.False(t, PublicKey(p).VerifyBytes([]byte("m"), sig))
	}
}

func TestBatchVerifier(t *testing.T) {
	partitiontest.PartitionTest(t)

	kr := MakeKeyring()
	bv := MakeBatchVerifier(0)
	failed, err := bv.VerifyWithFeedback()
	require.NoError(t, err)
	require.Nil(t, failed)

	for i := 0; i < 5; i++ {
		env, err := kr.Sign([]byte{byte(i)}, kr.GenerateKey())
		require.NoError(t, err)
		bv.EnqueueEnvelope(env)
	}
	failed, err = bv.VerifyWithFeedback()
	require.NoError(t, err)
	require.Nil(t, failed)

	bad, err := kr.Sign([]byte("bad"), kr.GenerateKey())
	require.NoError(t, err)
	bad.Payload = []byte("bae")
	bv.EnqueueEnvelope(bad)

	failed, err = bv.VerifyWithFeedback()
	require.ErrorIs(t, err, ErrBatchHasFailedSigs)
	require.Equal(t, []bool{false, false, false, false, false, true}, failed)
}
