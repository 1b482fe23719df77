package storage

import (
	"context"
	"time"
)

// DefaultConsentTTL — идентификатор согласия короткоживущий: после истечения опрос
// бессмыслен, пользователь начинает включение шифрования заново.
const DefaultConsentTTL = 15 * time.Minute

// ConsentStore хранит идентификатор ожидающего согласия вне кеша каналов,
// чтобы ожидание пережило перезапуск клиента.
// Реализации: redis.Client, file.Client, memory.Client (тесты и эфемерный режим).
type ConsentStore interface {
	SetConsentID(ctx context.Context, gid, consentID string) error
	// GetConsentID возвращает "" без ошибки, если согласия нет или оно истекло.
	GetConsentID(ctx context.Context, gid string) (string, error)
	ClearConsentID(ctx context.Context, gid string) error
	Close() error
}
