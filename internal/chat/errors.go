package chat

import "errors"

var (
	// ErrNoModels is returned when no provider exposes a model.
	ErrNoModels = errors.New("chat: no provider models loaded")

	// ErrNoPendingField is returned by SubmitField when the user was not
	// asked for anything.
	ErrNoPendingField = errors.New("chat: no pending field request")

	// ErrEmptyField is returned when a submitted field value is blank.
	ErrEmptyField = errors.New("chat: empty field value")

	// ErrUnauthorized is returned when a token is rejected by the provider.
	ErrUnauthorized = errors.New("chat: token rejected by provider")

	// ErrDispatcherStopped is returned by Submit after Stop.
	ErrDispatcherStopped = errors.New("chat: dispatcher stopped")
)
