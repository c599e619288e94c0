package services

import "errors"

// Sentinel errors matched by the HTTP layer to the fixed error-code table.
var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrCardNotFound     = errors.New("card not found")
	ErrCardToken        = errors.New("card token request failed")
)
