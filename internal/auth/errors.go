package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrKeyInactive        = errors.New("auth: api key inactive")
	ErrForbidden          = errors.New("auth: forbidden")
)
