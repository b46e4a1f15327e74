package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeMinter_MintsSequentialPIDs(t *testing.T) {
	m := NewFakeMinter("hdl")
	ctx := context.Background()

	first, err := m.Mint(ctx, "http://site/1")
	require.NoError(t, err)
	second, err := m.Mint(ctx, "http://site/2")
	require.NoError(t, err)

	assert.Equal(t, "hdl/1", first)
	assert.Equal(t, "hdl/2", second)
	assert.Equal(t, 2, m.Minted())
	assert.Equal(t, []string{"http://site/1", "http://site/2"}, m.URLs())
}

func TestFakeMinter_Fail(t *testing.T) {
	m := NewFakeMinter("")
	ctx := context.Background()
	m.Fail(1)

	_, err := m.Mint(ctx, "u")
	require.ErrorIs(t, err, ErrMintUnavailable)

	pid, err := m.Mint(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "test/1", pid)
}

func TestFakeMinter_Attach(t *testing.T) {
	m := NewFakeMinter("hdl")
	ctx := context.Background()

	require.NoError(t, m.Attach(ctx, "hdl/1", "API_URL", "http://api"))
	assert.Equal(t, map[string]string{"API_URL": "http://api"}, m.Attached("hdl/1"))
	assert.Empty(t, m.Attached("hdl/2"))
}

func TestFakeMinter_CanceledContext(t *testing.T) {
	m := NewFakeMinter("hdl")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Mint(ctx, "u")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Minted())
}
