package e2e

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/messenger/chansync/internal/model"
)

// ChannelKeySize — размер симметричного ключа канала.
const ChannelKeySize = 32

// ErrNoUsableDevice — у участника нет устройства с публичным ключом.
var ErrNoUsableDevice = errors.New("e2e: participant has no usable device")

func NewChannelKey() ([]byte, error) {
	key := make([]byte, ChannelKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("e2e: channel key: %w", err)
	}
	return key, nil
}

// Seal шифрует plaintext для набора age-получателей и возвращает base64.
func Seal(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", ErrNoUsableDevice
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("e2e: parse recipient %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("e2e: encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("e2e: encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("e2e: encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func open(payload string, id age.Identity) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("e2e: decode secret: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), id)
	if err != nil {
		return nil, fmt.Errorf("e2e: decrypt secret: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("e2e: read secret: %w", err)
	}
	return out, nil
}

// DeriveSecrets шифрует ключ канала для каждого участника: один секрет на участника,
// адресованный всем его пригодным устройствам.
func DeriveSecrets(channelKey []byte, participants []string, devices map[string][]model.Device) ([]model.Secret, error) {
	secrets := make([]model.Secret, 0, len(participants))
	for _, gid := range participants {
		keys := make([]string, 0, len(devices[gid]))
		for _, d := range devices[gid] {
			if d.Usable() {
				keys = append(keys, d.PublicKey)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoUsableDevice, gid)
		}
		payload, err := Seal(channelKey, keys)
		if err != nil {
			return nil, fmt.Errorf("e2e: secret for %s: %w", gid, err)
		}
		secrets = append(secrets, model.Secret{ParticipantGID: gid, Payload: payload})
	}
	return secrets, nil
}

// GroupDevices раскладывает устройства по владельцам, отбрасывая непригодные.
func GroupDevices(devices []model.Device) map[string][]model.Device {
	out := make(map[string][]model.Device)
	for _, d := range devices {
		if !d.Usable() {
			continue
		}
		out[d.OwnerGID] = append(out[d.OwnerGID], d)
	}
	return out
}
