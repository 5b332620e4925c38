package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotOwner          = errors.New("booking belongs to another user")
	ErrInvalidTransition = errors.New("invalid booking state transition")
	ErrDuplicate         = errors.New("duplicate record")
)
