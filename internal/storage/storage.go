package storage

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUserExists   = errors.New("user already exists")
	ErrSessionEnded = errors.New("session already ended")
)
