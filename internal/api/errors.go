package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConsentPending — согласие ещё не подтверждено; опрос нужно повторить.
var ErrConsentPending = errors.New("consent not yet approved")

// ErrNotFound — ресурс не найден (404).
var ErrNotFound = errors.New("not found")

const codeConsentNotApproved = "consent_not_approved"

// Error — ответ бэкенда с кодом не 2xx.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Is связывает статусы с сентинелами, чтобы вызывающие проверяли errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConsentPending:
		return e.Code == codeConsentNotApproved
	}
	return false
}

// StatusOf возвращает HTTP-статус из цепочки ошибок или 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
