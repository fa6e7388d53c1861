package auth

import "errors"

var (
	// ErrUnauthenticated means no grant id was bound to the request at all.
	ErrUnauthenticated = errors.New("you must be logged in to perform this action")

	// ErrGrantNotClaimed means the grant exists but no user has claimed it
	// yet. The remedy is the authenticate tool.
	ErrGrantNotClaimed = errors.New("no user found for the given grant; claim the grant by invoking the authenticate tool")

	// ErrGrantNotFound means the grant id does not resolve to any grant.
	ErrGrantNotFound = errors.New("the given grant is invalid (no matching grant)")

	// ErrTokenNotFound means no live validation token exists for the grant.
	ErrTokenNotFound = errors.New("no live validation token for this grant; invoke the authenticate tool to request a new one")

	// ErrInvalidToken means the submitted code did not match the live token.
	ErrInvalidToken = errors.New("the submitted validation token is incorrect")

	// ErrEmailDispatch wraps a failure to send the validation code email.
	// Authentication cannot proceed without the email, so this surfaces to
	// the caller as a hard failure.
	ErrEmailDispatch = errors.New("sending the validation email failed")
)
