package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RunsInReverseOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	for _, name := range []string{"vault", "journal", "sync"} {
		name := name
		m.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	m.OnShutdown("nil", nil)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"sync", "journal", "vault"}, order)
}

func TestManager_CollectsErrors(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	ran := false
	m.OnShutdown("first", func(context.Context) error {
		ran = true
		return nil
	})
	m.OnShutdown("second", func(context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")
	assert.True(t, ran)
}

func TestManager_Empty(t *testing.T) {
	assert.NoError(t, NewManager().Shutdown(context.Background()))
}
