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

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration upgrades a schema by exactly one version.
type Migration func(ctx context.Context, tx *sql.Tx) error

// GetUserVersion returns the schema version recorded in the database.
func GetUserVersion(ctx context.Context, tx *sql.Tx) (userVersion int32, err error) {
	err = tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&userVersion)
	if err != nil {
		return 0, err
	}
	return userVersion, nil
}

// SetUserVersion records a new schema version and returns the previous one.
func SetUserVersion(ctx context.Context, tx *sql.Tx, userVersion int32) (previousUserVersion int32, err error) {
	previousUserVersion, err = GetUserVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", userVersion))
	if err != nil {
		return 0, err
	}
	return previousUserVersion, nil
}

// Migrate applies, in order, every migration the database has not seen yet.
// migrations[i] moves the schema from version i to version i+1.
func Migrate(ctx context.Context, tx *sql.Tx, migrations []Migration) (int32, error) {
	version, err := GetUserVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	if int(version) > len(migrations) {
		return version, fmt.Errorf("database schema version %d is newer than supported version %d", version, len(migrations))
	}
	for v := int(version); v < len(migrations); v++ {
		if err = migrations[v](ctx, tx); err != nil {
			return int32(v), fmt.Errorf("schema migration %d -> %d: %w", v, v+1, err)
		}
	}
	if int(version) != len(migrations) {
		if _, err = SetUserVersion(ctx, tx, int32(len(migrations))); err != nil {
			return version, err
		}
	}
	return int32(len(migrations)), nil
}
