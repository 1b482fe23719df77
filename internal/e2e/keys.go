// Package e2e — ключи устройства и секреты каналов поверх age (X25519).
package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
)

// ErrNotInitialized — менеджер ключей ещё не инициализирован.
var ErrNotInitialized = errors.New("e2e: key manager not initialized")

// DefaultScryptWorkFactor — log2 параметра N для шифрования файла ключей паролем.
const DefaultScryptWorkFactor = 18

type keyFile struct {
	Identity string `json:"identity"`
	DeviceID string `json:"device_id,omitempty"`
}

// KeyManager хранит пару ключей устройства и id зарегистрированного устройства.
// Путь пустой — ключи живут только в памяти. Пароль задан — файл шифруется age scrypt.
type KeyManager struct {
	mu         sync.RWMutex
	path       string
	passphrase string
	workFactor int
	identity   *age.X25519Identity
	deviceID   string
}

func NewKeyManager(path, passphrase string) *KeyManager {
	return &KeyManager{path: path, passphrase: passphrase, workFactor: DefaultScryptWorkFactor}
}

// SetWorkFactor меняет стоимость scrypt (тесты ставят маленькое значение).
func (k *KeyManager) SetWorkFactor(logN int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.workFactor = logN
}

// Init загружает ключи с диска или генерирует новую пару. Повторный вызов — no-op.
func (k *KeyManager) Init() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.identity != nil {
		return nil
	}
	if k.path != "" {
		kf, err := k.load()
		switch {
		case err == nil:
			id, err := age.ParseX25519Identity(kf.Identity)
			if err != nil {
				return fmt.Errorf("e2e.Init: parse identity: %w", err)
			}
			k.identity = id
			k.deviceID = kf.DeviceID
			return nil
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("e2e.Init: %w", err)
		}
	}
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("e2e.Init: generate identity: %w", err)
	}
	k.identity = id
	return k.saveLocked()
}

func (k *KeyManager) Initialized() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.identity != nil
}

// PublicKey — age-получатель устройства (age1...).
func (k *KeyManager) PublicKey() (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.identity == nil {
		return "", ErrNotInitialized
	}
	return k.identity.Recipient().String(), nil
}

// DeviceID возвращает id зарегистрированного устройства или "".
func (k *KeyManager) DeviceID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.deviceID
}

func (k *KeyManager) SetDeviceID(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.identity == nil {
		return ErrNotInitialized
	}
	k.deviceID = id
	return k.saveLocked()
}

// Open расшифровывает секрет канала, адресованный этому устройству.
func (k *KeyManager) Open(payload string) ([]byte, error) {
	k.mu.RLock()
	id := k.identity
	k.mu.RUnlock()
	if id == nil {
		return nil, ErrNotInitialized
	}
	return open(payload, id)
}

func (k *KeyManager) load() (*keyFile, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}
	if k.passphrase != "" {
		sid, err := age.NewScryptIdentity(k.passphrase)
		if err != nil {
			return nil, err
		}
		sid.SetMaxWorkFactor(30)
		r, err := age.Decrypt(bytes.NewReader(raw), sid)
		if err != nil {
			return nil, fmt.Errorf("decrypt key file: %w", err)
		}
		if raw, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return &kf, nil
}

func (k *KeyManager) saveLocked() error {
	if k.path == "" {
		return nil
	}
	data, err := json.Marshal(keyFile{Identity: k.identity.String(), DeviceID: k.deviceID})
	if err != nil {
		return err
	}
	if k.passphrase != "" {
		rcp, err := age.NewScryptRecipient(k.passphrase)
		if err != nil {
			return fmt.Errorf("e2e: scrypt recipient: %w", err)
		}
		rcp.SetWorkFactor(k.workFactor)
		var buf bytes.Buffer
		w, err := age.Encrypt(&buf, rcp)
		if err != nil {
			return fmt.Errorf("e2e: encrypt key file: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("e2e: encrypt key file: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("e2e: encrypt key file: %w", err)
		}
		data = buf.Bytes()
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("e2e: key dir: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("e2e: write key file: %w", err)
	}
	return os.Rename(tmp, k.path)
}
