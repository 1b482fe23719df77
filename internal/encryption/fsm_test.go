package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger/chansync/internal/model"
)

func TestMachine_RejectsInvalidTransitions(t *testing.T) {
	all := []model.EncryptionStatus{
		model.EncryptionPending, model.EncryptionKeyManagerInitialized, model.EncryptionPolling,
		model.EncryptionEnabled, model.EncryptionDisabled,
	}
	allowed := map[[2]model.EncryptionStatus]bool{}
	for _, pair := range [][2]model.EncryptionStatus{
		{model.EncryptionPending, model.EncryptionKeyManagerInitialized},
		{model.EncryptionPending, model.EncryptionDisabled},
		{model.EncryptionKeyManagerInitialized, model.EncryptionEnabled},
		{model.EncryptionKeyManagerInitialized, model.EncryptionDisabled},
		{model.EncryptionKeyManagerInitialized, model.EncryptionPolling},
		{model.EncryptionPolling, model.EncryptionEnabled},
		{model.EncryptionPolling, model.EncryptionDisabled},
		{model.EncryptionDisabled, model.EncryptionPending},
	} {
		allowed[pair] = true
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]model.EncryptionStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	m := NewMachine()
	err := m.Transition(model.EncryptionEnabled)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.EncryptionPending, m.Status())
}

func TestMachine_EnabledOnlyAfterKeyManager(t *testing.T) {
	// ни один путь в ENABLED не обходит KEY_MANAGER_INITIALIZED
	for from, tos := range transitions {
		for _, to := range tos {
			if to == model.EncryptionEnabled {
				assert.Contains(t, []model.EncryptionStatus{model.EncryptionKeyManagerInitialized, model.EncryptionPolling}, from)
			}
			if to == model.EncryptionPolling {
				assert.Equal(t, model.EncryptionKeyManagerInitialized, from)
			}
		}
	}

	m := NewMachine()
	var seen []model.EncryptionStatus
	m.OnChange(func(_, to model.EncryptionStatus) { seen = append(seen, to) })
	require.NoError(t, m.Transition(model.EncryptionKeyManagerInitialized))
	require.NoError(t, m.Transition(model.EncryptionPolling))
	require.NoError(t, m.Transition(model.EncryptionEnabled))
	assert.ErrorIs(t, m.Transition(model.EncryptionDisabled), ErrInvalidTransition)
	assert.Equal(t, []model.EncryptionStatus{
		model.EncryptionKeyManagerInitialized, model.EncryptionPolling, model.EncryptionEnabled,
	}, seen)
}
