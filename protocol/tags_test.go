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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestMessageTypeParts(t *testing.T) {
	partitiontest.PartitionTest(t)

	mt := MakeMessageType("simple-consensus", "1.0", "stage-propose")
	require.Equal(t, ProposeType, mt)
	require.True(t, mt.Valid())
	require.Equal(t, "simple-consensus", mt.Protocol())
	require.Equal(t, "1.0", mt.Version())
	require.Equal(t, "stage-propose", mt.Name())

	require.Equal(t, NotificationProtocol, ProblemReportType.Protocol())
	require.Equal(t, "problem_report", ProblemReportType.Name())
}

func TestMessageTypeMalformed(t *testing.T) {
	partitiontest.PartitionTest(t)

	for _, mt := range []MessageType{"", "stage-propose", DIDCommPrefix + "simple-consensus/1.0", DIDCommPrefix + "a//c", "https://example.com/a/b/c"} {
		require.False(t, mt.Valid(), string(mt))
		require.Empty(t, mt.Name())
	}
}

// The stage names are part of the wire format; a typo here silently breaks interop.
func TestMessageTypesUnique(t *testing.T) {
	partitiontest.PartitionTest(t)

	all := []MessageType{AckType, InitializeType, InitRequestType, InitResponseType, ProblemReportType,
		CommitType, CommitParallelType, PostCommitType, PostCommitParallelType, PreCommitType,
		PreCommitParallelType, ProposeType, ProposeParallelType}
	seen := make(map[MessageType]bool)
	for _, mt := range all {
		require.True(t, mt.Valid())
		require.False(t, seen[mt], string(mt))
		seen[mt] = true
	}
}
