package models

import "time"

type User struct {
	ID           string
	Login        string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}
