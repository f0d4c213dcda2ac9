package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrNoProfile    = errors.New("auth: no profile")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrConflict     = errors.New("auth: conflict")
)
