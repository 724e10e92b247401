/*
Package errs provides the error types shared by chatsync.

The development backend reports failures with numeric application codes (CustomError). The
synchronization core classifies every collaborator failure into one of four kinds (SyncError) so
callers can decide between re-authenticating, retrying, or fixing their input.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Chat and Message Errors
const (
	// ErrChatNotFound indicates that the referenced chat does not exist.
	ErrChatNotFound = 2103

	// ErrNotChatMember indicates that the caller is not a participant of the referenced chat.
	ErrNotChatMember = 2105

	// ErrGroupTooSmall indicates that a group chat was requested with fewer than two other users.
	ErrGroupTooSmall = 2106

	// ErrGroupNameRequired indicates that a group chat was requested without a name.
	ErrGroupNameRequired = 2107

	// ErrMessageContentEmpty indicates that a message had no non-whitespace content.
	ErrMessageContentEmpty = 2200

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthorized indicates a missing, malformed, or expired bearer token.
	ErrUnauthorized = 3000

	// ErrInvalidName indicates that the display name failed validation.
	ErrInvalidName = 3101

	// ErrInvalidEmail indicates that the email address failed validation.
	ErrInvalidEmail = 3102

	// ErrInvalidPassword indicates that the password failed length validation.
	ErrInvalidPassword = 3103

	// ErrUserAlreadyExists indicates that the email address is already registered.
	ErrUserAlreadyExists = 3104

	// ErrInvalidCredentials indicates a login with an unknown email or wrong password.
	ErrInvalidCredentials = 3105

	// ErrUserNotFound indicates that the referenced user does not exist.
	ErrUserNotFound = 3106
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
