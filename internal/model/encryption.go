package model

type EncryptionStatus string

const (
	EncryptionDisabled              EncryptionStatus = "DISABLED"
	EncryptionEnabled               EncryptionStatus = "ENABLED"
	EncryptionPending               EncryptionStatus = "PENDING"
	EncryptionPolling               EncryptionStatus = "POLLING"
	EncryptionKeyManagerInitialized EncryptionStatus = "KEY_MANAGER_INITIALIZED"
)

// Terminal — состояния, на которых UI перестаёт показывать ожидание.
func (s EncryptionStatus) Terminal() bool {
	return s == EncryptionEnabled || s == EncryptionDisabled
}

type ConsentStatus string

const (
	ConsentCompleted ConsentStatus = "completed"
	ConsentRejected  ConsentStatus = "rejected"
	ConsentPending   ConsentStatus = "pending"
)
