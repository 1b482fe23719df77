// Package encryption — состояние шифрования сессии и его инициализация
// (ключи устройства, согласие, включение).
package encryption

import (
	"errors"
	"fmt"
	"sync"

	"github.com/messenger/chansync/internal/model"
)

var ErrInvalidTransition = errors.New("encryption: invalid transition")

// transitions — допустимые переходы. ENABLED конечное; из DISABLED только повтор через PENDING.
var transitions = map[model.EncryptionStatus][]model.EncryptionStatus{
	model.EncryptionPending:               {model.EncryptionKeyManagerInitialized, model.EncryptionDisabled},
	model.EncryptionKeyManagerInitialized: {model.EncryptionEnabled, model.EncryptionDisabled, model.EncryptionPolling},
	model.EncryptionPolling:               {model.EncryptionEnabled, model.EncryptionDisabled},
	model.EncryptionDisabled:              {model.EncryptionPending},
	model.EncryptionEnabled:               nil,
}

func CanTransition(from, to model.EncryptionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Listener вызывается после каждого перехода, вне блокировки машины.
type Listener func(from, to model.EncryptionStatus)

type Machine struct {
	mu        sync.Mutex
	status    model.EncryptionStatus
	listeners []Listener
}

// NewMachine — машина в начальном состоянии PENDING.
func NewMachine() *Machine {
	return &Machine{status: model.EncryptionPending}
}

func (m *Machine) Status() model.EncryptionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) OnChange(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Transition переводит машину в to или возвращает ErrInvalidTransition, не меняя состояние.
func (m *Machine) Transition(to model.EncryptionStatus) error {
	m.mu.Lock()
	from := m.status
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.status = to
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}
