package domain

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrNoSession = errors.New("no session")
	ErrNoFile    = errors.New("no file provided")
)
