// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eventdock/eventdock/internal/store"
	"github.com/eventdock/eventdock/pkg/errutil"
)

func TestConnect_InvalidDSN(t *testing.T) {
	_, err := store.Connect(context.Background(), "postgres://%zz", store.ConnectOptions{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}

func TestConnect_GivesUpAfterAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Port 1 on loopback refuses connections immediately.
	_, err := store.Connect(ctx, "postgres://eventdock@127.0.0.1:1/eventdock?connect_timeout=1", store.ConnectOptions{
		Attempts: 2,
		Backoff:  time.Millisecond,
	})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_UNAVAILABLE")
	errutil.AssertErrorContext(t, err, "attempts", 3)
}
