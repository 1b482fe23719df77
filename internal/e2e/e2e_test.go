package e2e

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger/chansync/internal/model"
)

func newDevice(t *testing.T, owner, id string) (*KeyManager, model.Device) {
	t.Helper()
	km := NewKeyManager("", "")
	require.NoError(t, km.Init())
	pub, err := km.PublicKey()
	require.NoError(t, err)
	return km, model.Device{ID: id, OwnerGID: owner, PublicKey: pub}
}

func TestDeriveSecrets_EachDeviceCanOpen(t *testing.T) {
	bPhone, bPhoneDev := newDevice(t, "b", "b-phone")
	bLaptop, bLaptopDev := newDevice(t, "b", "b-laptop")
	c, cDev := newDevice(t, "c", "c-1")

	key, err := NewChannelKey()
	require.NoError(t, err)

	devs := GroupDevices([]model.Device{bPhoneDev, bLaptopDev, cDev, {ID: "broken", OwnerGID: "c"}})
	secrets, err := DeriveSecrets(key, []string{"b", "c"}, devs)
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, "b", secrets[0].ParticipantGID)

	for _, km := range []*KeyManager{bPhone, bLaptop} {
		got, err := km.Open(secrets[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, key, got)
	}
	got, err := c.Open(secrets[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = c.Open(secrets[0].Payload)
	assert.Error(t, err)
}

func TestDeriveSecrets_MissingDevice(t *testing.T) {
	_, bDev := newDevice(t, "b", "b-1")
	key, err := NewChannelKey()
	require.NoError(t, err)
	_, err = DeriveSecrets(key, []string{"b", "c"}, GroupDevices([]model.Device{bDev}))
	assert.ErrorIs(t, err, ErrNoUsableDevice)
}

func TestKeyManager_PersistsEncryptedKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "device.age")

	km := NewKeyManager(path, "correct horse")
	km.SetWorkFactor(10)
	require.NoError(t, km.Init())
	require.NoError(t, km.SetDeviceID("dev-1"))
	pub, err := km.PublicKey()
	require.NoError(t, err)

	again := NewKeyManager(path, "correct horse")
	require.NoError(t, again.Init())
	pub2, err := again.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, pub2)
	assert.Equal(t, "dev-1", again.DeviceID())

	wrong := NewKeyManager(path, "wrong")
	assert.Error(t, wrong.Init())
}

func TestKeyManager_NotInitialized(t *testing.T) {
	km := NewKeyManager("", "")
	_, err := km.PublicKey()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = km.Open("AAAA")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, km.SetDeviceID("x"), ErrNotInitialized)
}
