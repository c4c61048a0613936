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

package logging

import (
	"testing"
)

// testLoggerWriter forwards log output to the test framework so it is only
// printed for failing (or verbose) tests.
type testLoggerWriter struct {
	t testing.TB
}

func (w testLoggerWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// TestingLog is a test-only helper to create a Logger that writes to the test framework.
func TestingLog(tb testing.TB) Logger {
	l := NewLogger()
	l.SetLevel(Debug)
	l.SetOutput(testLoggerWriter{t: tb})
	return l
}

// TestingLogWithoutFatalExit is like TestingLog but a Fatal entry only runs the
// registered exit handlers instead of terminating the test binary.
func TestingLogWithoutFatalExit(tb testing.TB) Logger {
	l := TestingLog(tb).(logger)
	l.entry.Logger.ExitFunc = func(int) {}
	return l
}
