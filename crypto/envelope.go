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
	"errors"
	"fmt"

	"github.com/algorand/go-deadlock"
)

// ErrUnknownKey is returned when asked to sign with a verkey whose secret
// the keyring does not hold.
var ErrUnknownKey = errors.New("no secret held for verkey")

// SignedEnvelope is a payload together with the verkey that signed it and
// the signature itself. Verifying an envelope yields the payload back.
type SignedEnvelope struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Signer  PublicKey `codec:"signer"`
	Payload []byte    `codec:"payload"`
	Sig     Signature `codec:"sig"`
}

func (env SignedEnvelope) signedBytes() []byte {
	return env.Payload
}

func (env SignedEnvelope) verifySignature() bool {
	return env.Signer.VerifyBytes(env.signedBytes(), env.Sig)
}

// Empty reports whether the envelope carries no signature at all.
func (env SignedEnvelope) Empty() bool {
	return env.Signer.IsZero() && env.Sig.Blank() && len(env.Payload) == 0
}

// SigningService produces and checks signed envelopes on behalf of an agent.
type SigningService interface {
	// Sign wraps payload in an envelope signed by the secret behind signer.
	Sign(payload []byte, signer PublicKey) (SignedEnvelope, error)

	// Verify returns the payload of env if it was signed by expected and the
	// signature is valid. The caller still has to compare the payload with
	// what it expected to be signed.
	Verify(env SignedEnvelope, expected PublicKey) ([]byte, bool)
}

// Keyring is an in-memory SigningService.
type Keyring struct {
	mu      deadlock.RWMutex
	secrets map[PublicKey]*SignatureSecrets
}

// MakeKeyring returns an empty keyring.
func MakeKeyring() *Keyring {
	return &Keyring{secrets: make(map[PublicKey]*SignatureSecrets)}
}

// GenerateKey creates a fresh random key and returns its verkey.
func (k *Keyring) GenerateKey() PublicKey {
	var seed Seed
	RandBytes(seed[:])
	return k.ImportSeed(seed)
}

// ImportSeed derives a key from seed, stores it and returns its verkey.
func (k *Keyring) ImportSeed(seed Seed) PublicKey {
	s := GenerateSignatureSecrets(seed)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[s.SignatureVerifier] = s
	return s.SignatureVerifier
}

// Has reports whether the keyring holds the secret for verkey.
func (k *Keyring) Has(verkey PublicKey) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.secrets[verkey]
	return ok
}

// Sign implements SigningService.
func (k *Keyring) Sign(payload []byte, signer PublicKey) (SignedEnvelope, error) {
	k.mu.RLock()
	s, ok := k.secrets[signer]
	k.mu.RUnlock()
	if !ok {
		return SignedEnvelope{}, fmt.Errorf("%w: %v", ErrUnknownKey, signer)
	}

	env := SignedEnvelope{
		Signer:  signer,
		Payload: append([]byte(nil), payload...),
	}
	env.Sig = s.SignBytes(env.signedBytes())
	return env, nil
}

// Verify implements SigningService.
func (k *Keyring) Verify(env SignedEnvelope, expected PublicKey) ([]byte, bool) {
	return VerifyEnvelope(env, expected)
}

// VerifyEnvelope checks env without needing any secret.
func VerifyEnvelope(env SignedEnvelope, expected PublicKey) ([]byte, bool) {
	if env.Signer != expected {
		return nil, false
	}
	if !env.verifySignature() {
		return nil, false
	}
	return env.Payload, true
}
