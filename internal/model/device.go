package model

import "time"

// Device — зарегистрированное устройство пользователя. PublicKey — age X25519 получатель (age1...).
type Device struct {
	ID                string    `json:"id"`
	OwnerGID          string    `json:"gid_uuid"`
	Name              string    `json:"name,omitempty"`
	PublicKey         string    `json:"public_key"`
	EncryptionEnabled bool      `json:"encryption_enabled"`
	CreatedAt         time.Time `json:"created_at"`
}

// Usable — устройство можно использовать как получателя секрета.
func (d Device) Usable() bool {
	return d.ID != "" && d.PublicKey != ""
}

// Secret — зашифрованный секрет канала для одного участника. Payload непрозрачен.
type Secret struct {
	ParticipantGID string `json:"gid_uuid"`
	Payload        string `json:"secret"`
}
