package model

import "time"

// User — учётная запись пользователя Test Assistant.
type User struct {
	// ID — UUID записи
	ID string
	// Email — уникальный адрес, идентифицирует владельца генераций
	Email string
	// Name — отображаемое имя
	Name string
	// PasswordHash — bcrypt-хэш пароля
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
