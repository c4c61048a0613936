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

package codecs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

type testValue struct {
	Bool   bool
	String string
	Int    int
	List   []string
	hidden int
}

func TestNonDefaultValues(t *testing.T) {
	partitiontest.PartitionTest(t)

	def := testValue{Bool: true, String: "default", Int: 2, List: []string{"a"}}
	v := def
	v.Int = 1
	v.List = []string{"a", "b"}
	v.hidden = 9

	require.Equal(t, map[string]interface{}{"Int": 1, "List": []string{"a", "b"}}, NonDefaultValues(v, def, nil))
	require.Equal(t, map[string]interface{}{"Int": 1, "List": []string{"a", "b"}, "Bool": true}, NonDefaultValues(&v, &def, []string{"Bool"}))
	require.Empty(t, NonDefaultValues(def, def, nil))
}

func TestSaveNonDefaultValuesToFile(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	v := testValue{Bool: true, String: "changed", Int: 2}
	def := testValue{Bool: true, String: "default", Int: 2}

	for _, pretty := range []bool{true, false} {
		name := filepath.Join(dir, "out.json")
		require.NoError(t, SaveNonDefaultValuesToFile(name, v, def, []string{"Int"}, pretty))

		var loaded map[string]interface{}
		require.NoError(t, LoadObjectFromFile(name, &loaded))
		require.Equal(t, map[string]interface{}{"String": "changed", "Int": float64(2)}, loaded)

		raw, err := os.ReadFile(name)
		require.NoError(t, err)
		require.False(t, strings.Contains(string(raw), "Bool"))
		require.Less(t, strings.Index(string(raw), "String"), strings.Index(string(raw), "Int"))
		require.Equal(t, pretty, strings.Contains(string(raw), "\n\t"))
	}

	name := filepath.Join(dir, "empty.json")
	require.NoError(t, SaveNonDefaultValuesToFile(name, def, def, nil, true))
	var loaded map[string]interface{}
	require.NoError(t, LoadObjectFromFile(name, &loaded))
	require.Empty(t, loaded)
}

func TestLoadObjectFromFileKeepsMissingFields(t *testing.T) {
	partitiontest.PartitionTest(t)

	name := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(name, []byte(`{"Int": 5}`), 0644))

	v := testValue{String: "kept"}
	require.NoError(t, LoadObjectFromFile(name, &v))
	require.Equal(t, 5, v.Int)
	require.Equal(t, "kept", v.String)

	err := LoadObjectFromFile(filepath.Join(t.TempDir(), "missing.json"), &v)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(name, []byte(`{"Int": "x"}`), 0644))
	var typeErr *json.UnmarshalTypeError
	require.ErrorAs(t, LoadObjectFromFile(name, &v), &typeErr)
}
