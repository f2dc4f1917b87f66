// Package models содержит доменные структуры сервиса: пользователя,
// подписку на VPN-ключ и события жизненного цикла подписки.
package models

import "time"

// User — учётная запись. Движок жизненного цикла читает только ID.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
