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

package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestRetry(t *testing.T) {
	partitiontest.PartitionTest(t)

	n := 0
	try := func() error {
		n++
		if n < 30 {
			return fmt.Errorf("test error %d", n)
		}
		return nil
	}
	err := Config{MaxWait: time.Millisecond}.Retry(context.Background(), try)
	require.NoError(t, err)
	require.Equal(t, 30, n)
}

func TestRetryReportAborts(t *testing.T) {
	partitiontest.PartitionTest(t)

	permanent := errors.New("permanent")
	calls := 0
	c := Config{Report: func(err error) error {
		if errors.Is(err, permanent) {
			return err
		}
		return nil
	}}
	err := c.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 3, calls)
}

func TestRetryContext(t *testing.T) {
	partitiontest.PartitionTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Retry(ctx, func() error { called = true; return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = Config{MaxWait: 5 * time.Millisecond}.Retry(ctx, func() error { return errors.New("never") })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
