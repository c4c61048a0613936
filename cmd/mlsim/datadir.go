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

package main

import "os"

// dataDirEnv names the environment variable consulted when no -d is given.
const dataDirEnv = "MLSIM_DATA"

var dataDirs []string

// resolveDataDir returns the first data directory from the command line
// or the environment, or "" when neither is set.
func resolveDataDir() string {
	var dir string
	if len(dataDirs) > 0 {
		dir = dataDirs[0]
	}
	if dir == "" {
		dir = os.Getenv(dataDirEnv)
	}
	return dir
}

func ensureFirstDataDir() string {
	dir := resolveDataDir()
	if dir == "" {
		reportErrorln(errorNoDataDirectory)
	}
	return dir
}

func getDataDirs() (dirs []string) {
	dirs = append(dirs, ensureFirstDataDir())
	if len(dataDirs) > 1 {
		dirs = append(dirs, dataDirs[1:]...)
	}
	return
}

func onDataDirs(action func(dataDir string)) {
	dirs := getDataDirs()
	report := len(dirs) > 1

	for _, dir := range dirs {
		if report {
			reportInfof(infoDataDir, dir)
		}
		action(dir)
	}
}
