// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("INFINITUNE_TEST_INT", "not-a-number")
	require.Equal(t, 7, ParseInt("INFINITUNE_TEST_INT", 7))

	t.Setenv("INFINITUNE_TEST_INT", "42")
	require.Equal(t, 42, ParseInt("INFINITUNE_TEST_INT", 7))

	require.Equal(t, 7, ParseInt("INFINITUNE_TEST_INT_UNSET", 7))
}

func TestParseDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("INFINITUNE_TEST_DUR", "ninety seconds")
	require.Equal(t, 9*time.Second, ParseDuration("INFINITUNE_TEST_DUR", 9*time.Second))

	t.Setenv("INFINITUNE_TEST_DUR", "90s")
	require.Equal(t, 90*time.Second, ParseDuration("INFINITUNE_TEST_DUR", 9*time.Second))
}
