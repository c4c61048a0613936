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
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// A Seed holds the entropy needed to generate cryptographic keys.
type Seed [ed25519.SeedSize]byte

// A PublicKey is an ed25519 verification key. Agents call it a verkey and
// exchange it in base58 form.
type PublicKey [ed25519.PublicKeySize]byte

// A Signature is a cryptographic signature. It proves that a message was
// produced by a holder of a cryptographic secret.
type Signature [ed25519.SignatureSize]byte

// BlankSignature is an empty signature structure, containing nothing but zeroes
var BlankSignature = Signature{}

// Blank tests to see if the given signature contains only zeros
func (s *Signature) Blank() bool {
	return (*s) == BlankSignature
}

// SignatureSecrets are used by an entity to produce unforgeable signatures over
// a message.
type SignatureSecrets struct {
	SignatureVerifier PublicKey
	SK                ed25519.PrivateKey
}

// ErrInvalidPublicKey is returned when a textual verkey cannot be decoded.
var ErrInvalidPublicKey = errors.New("invalid public key")

// GenerateSignatureSecrets creates SignatureSecrets from a source of entropy.
func GenerateSignatureSecrets(seed Seed) *SignatureSecrets {
	sk := ed25519.NewKeyFromSeed(seed[:])
	s := &SignatureSecrets{SK: sk}
	copy(s.SignatureVerifier[:], sk.Public().(ed25519.PublicKey))
	return s
}

// SignBytes signs a message directly, without first hashing.
// Caller is responsible for domain separation.
func (s *SignatureSecrets) SignBytes(message []byte) (sig Signature) {
	copy(sig[:], ed25519.Sign(s.SK, message))
	return
}

// Sign produces a cryptographic Signature of a Hashable message, given
// cryptographic secrets.
func (s *SignatureSecrets) Sign(message Hashable) Signature {
	return s.SignBytes(HashRep(message))
}

// VerifyBytes checks a signature over raw bytes.
func (v PublicKey) VerifyBytes(message []byte, sig Signature) bool {
	return ed25519ConsensusVerifySingle(v, message, sig)
}

// Verify verifies that some holder of a cryptographic secret authentically
// signed a Hashable message.
func (v PublicKey) Verify(message Hashable, sig Signature) bool {
	return v.VerifyBytes(HashRep(message), sig)
}

// IsZero reports whether the key is unset.
func (v PublicKey) IsZero() bool {
	return v == PublicKey{}
}

// String returns the key in base58.
func (v PublicKey) String() string {
	return base58.Encode(v[:])
}

// PublicKeyFromString decodes a base58 verkey.
func PublicKeyFromString(str string) (pk PublicKey, err error) {
	decoded, err := base58.Decode(str)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(decoded) != len(pk) {
		return pk, fmt.Errorf("%w: %q has %d bytes", ErrInvalidPublicKey, str, len(decoded))
	}
	copy(pk[:], decoded)
	return pk, nil
}
