package domain

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrLocked is returned when another dispatch or retry holds the campaign.
	ErrLocked = errors.New("campaign is locked")
)
