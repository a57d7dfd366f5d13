package secret

import "errors"

var (
	ErrMissingEnv            = errors.New("secret: missing environment variable")
	ErrProviderNotRegistered = errors.New("secret: provider not registered")
	ErrEmptySecret           = errors.New("secret: provider returned empty value")
	ErrInvalidRef            = errors.New("secret: invalid reference")
	ErrInvalidRegistration   = errors.New("secret: invalid provider registration")
)
