package token

import "errors"

var (
	// ErrTokenGeneration indicates token generation failed
	ErrTokenGeneration = errors.New("failed to generate token")

	// ErrInvalidRequest indicates an issue request is missing required fields
	ErrInvalidRequest = errors.New("invalid token request")
)
