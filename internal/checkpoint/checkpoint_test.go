package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHaltsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cp := New(0)

	require.NoError(t, cp.Check(ctx))
	cancel()

	err := cp.Check(ctx)
	require.Error(t, err)
	assert.True(t, IsHalted(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, cp.Calls())
}

func TestCheckCollectsEveryN(t *testing.T) {
	cp := New(3)
	collected := 0
	cp.gc = func() { collected++ }

	for i := 0; i < 7; i++ {
		require.NoError(t, cp.Check(context.Background()))
	}
	assert.Equal(t, 2, collected)
}
