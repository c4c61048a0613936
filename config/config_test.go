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

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestSaveThenLoad(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	c1 := GetDefaultLocal()
	c1.LedgerBackend = LedgerBackendSQLite
	c1.ConsensusTimeToLiveSec = 5
	require.NoError(t, c1.SaveToDisk(dir))

	c2, err := LoadConfigFromDisk(dir)
	require.NoError(t, err)

	var b1, b2 bytes.Buffer
	require.NoError(t, json.NewEncoder(&b1).Encode(c1))
	require.NoError(t, json.NewEncoder(&b2).Encode(c2))
	require.Equal(t, b1.String(), b2.String())
}

func TestSaveWritesOnlyNonDefaults(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	cfg := GetDefaultLocal()
	cfg.NetAddress = "127.0.0.1:0"
	require.NoError(t, cfg.SaveToDisk(dir))

	raw, err := os.ReadFile(filepath.Join(dir, ConfigFilename))
	require.NoError(t, err)
	var saved map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &saved))
	require.Len(t, saved, 2)
	require.Equal(t, "127.0.0.1:0", saved["NetAddress"])
	require.EqualValues(t, getLatestConfigVersion(), saved["Version"])
}

func TestLoadMissing(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg, err := LoadConfigFromDisk(filepath.Join(t.TempDir(), "missing"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, GetDefaultLocal(), cfg)
}

func TestMergeConfig(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	c1 := struct {
		LockWaitSec    int64
		NetAddress     string
		ShouldNotExist int // Ensure we don't panic when config has members we've removed
	}{
		LockWaitSec: 7,
		NetAddress:  "testing123",
	}

	f, err := os.OpenFile(filepath.Join(dir, ConfigFilename), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(f).Encode(c1))
	require.NoError(t, f.Close())

	def := GetDefaultLocal()
	c2, err := mergeConfigFromDir(dir, def)
	require.NoError(t, err)
	require.Equal(t, c1.LockWaitSec, c2.LockWaitSec)
	require.Equal(t, c1.NetAddress, c2.NetAddress)
	require.Equal(t, def.ConsensusTimeToLiveSec, c2.ConsensusTimeToLiveSec)
	require.Equal(t, def.NotifyPeersOnFailure, c2.NotifyPeersOnFailure)
}

func TestConfigMigrate(t *testing.T) {
	partitiontest.PartitionTest(t)

	a := require.New(t)

	c0, err := migrate(GetVersionedDefaultLocalConfig(0))
	a.NoError(err)
	a.Equal(defaultLocal, c0)

	cLatest, err := migrate(defaultLocal)
	a.NoError(err)
	a.Equal(defaultLocal, cLatest)

	cLatest.Version = getLatestConfigVersion() + 1
	_, err = migrate(cLatest)
	a.Error(err)

	// values changed by the operator are left alone
	c0Modified := GetVersionedDefaultLocalConfig(0)
	c0Modified.LockWaitSec = 11
	c0Modified, err = migrate(c0Modified)
	a.NoError(err)
	a.Equal(int64(11), c0Modified.LockWaitSec)
	a.Equal(getLatestConfigVersion(), c0Modified.Version)
}

func TestConfigMigrateFromDisk(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	// a version zero file that never set LockWaitSec
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(`{"Version": 0, "LedgerBackend": "sqlite"}`), 0600))

	cfg, err := LoadConfigFromDisk(dir)
	require.NoError(t, err)
	require.Equal(t, getLatestConfigVersion(), cfg.Version)
	require.Equal(t, defaultLocal.LockWaitSec, cfg.LockWaitSec)
	require.Equal(t, LedgerBackendSQLite, cfg.LedgerBackend)
}

func TestConfigLatestVersion(t *testing.T) {
	partitiontest.PartitionTest(t)

	require.Equal(t, getLatestConfigVersion(), defaultLocal.Version)
}

func TestLocalStructTags(t *testing.T) {
	partitiontest.PartitionTest(t)

	localType := reflect.TypeOf(Local{})
	for fieldNum := 0; fieldNum < localType.NumField(); fieldNum++ {
		field := localType.Field(fieldNum)
		_, has := field.Tag.Lookup("version[0]")
		require.Truef(t, has, "Field is missing versioning information: %s", field.Name)
	}
}

func TestGetVersionedDefaultLocalConfig(t *testing.T) {
	partitiontest.PartitionTest(t)

	for i := uint32(0); i <= getLatestConfigVersion(); i++ {
		localVersion := GetVersionedDefaultLocalConfig(i)
		require.Equal(t, i, localVersion.Version)
	}
}

// TestLocalVersionField ensures the Version tag lists contiguous versions only.
func TestLocalVersionField(t *testing.T) {
	partitiontest.PartitionTest(t)

	field, ok := reflect.TypeOf(Local{}).FieldByName("Version")
	require.True(t, ok)
	expectedTag := ""
	for ver := 0; ; ver++ {
		val, has := field.Tag.Lookup(fmt.Sprintf("version[%d]", ver))
		if !has {
			break
		}
		expectedTag = fmt.Sprintf("%sversion[%d]:\"%s\" ", expectedTag, ver, val)
	}
	expectedTag = expectedTag[:len(expectedTag)-1]
	require.Equal(t, expectedTag, string(field.Tag))
}

func TestDurations(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg := GetDefaultLocal()
	require.Equal(t, time.Minute, cfg.ConsensusTimeToLive())
	require.Equal(t, time.Minute, cfg.LockTimeToLive())
	require.Equal(t, 3*time.Second, cfg.LockWait())

	age, err := cfg.ArchiveMaxAge()
	require.NoError(t, err)
	require.Zero(t, age)

	cfg.LogArchiveMaxAge = "bogus"
	_, err = cfg.ArchiveMaxAge()
	require.Error(t, err)
}

func TestGetNonDefaultConfigValues(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg := GetDefaultLocal()
	require.Empty(t, GetNonDefaultConfigValues(cfg))

	cfg.EnableMetrics = false
	cfg.NetAddress = "127.0.0.1:0"
	got := GetNonDefaultConfigValues(cfg)
	require.Equal(t, map[string]interface{}{"EnableMetrics": false, "NetAddress": "127.0.0.1:0"}, got)
}
