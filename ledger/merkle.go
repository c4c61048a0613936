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

package ledger

import (
	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/protocol"
)

type merkleLeaf crypto.Digest

func (l merkleLeaf) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.MerkleLeaf, l[:]
}

type merkleNode struct {
	l, r crypto.Digest
}

func (n *merkleNode) ToBeHashed() (protocol.HashID, []byte) {
	buf := make([]byte, len(n.l)+len(n.r))
	copy(buf, n.l[:])
	copy(buf[len(n.l):], n.r[:])
	return protocol.MerkleNode, buf
}

// EmptyRoot is the root hash of a ledger with no transactions.
var EmptyRoot = crypto.Hash(nil)

// MerkleRoot computes the root of the tree over leaves, splitting ranges
// at the largest power of two below their length. A prefix of leaves that
// fills a complete subtree keeps its subtree hash as leaves are added.
func MerkleRoot(leaves []crypto.Digest) crypto.Digest {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	return subtreeRoot(leaves)
}

func subtreeRoot(leaves []crypto.Digest) crypto.Digest {
	if len(leaves) == 1 {
		return crypto.HashObj(merkleLeaf(leaves[0]))
	}
	k := 1
	for k<<1 < len(leaves) {
		k <<= 1
	}
	return crypto.HashObj(&merkleNode{l: subtreeRoot(leaves[:k]), r: subtreeRoot(leaves[k:])})
}

// RootOf hashes txns and returns their merkle root.
func RootOf(txns []Transaction) crypto.Digest {
	leaves := make([]crypto.Digest, len(txns))
	for i := range txns {
		leaves[i] = txns[i].Hash()
	}
	return MerkleRoot(leaves)
}
