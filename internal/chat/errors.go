package chat

import "errors"

// Categories every failure surfaced by a Client is wrapped into
var (
	ErrAuth   = errors.New("authentication failed")
	ErrWrite  = errors.New("write failed")
	ErrUpload = errors.New("upload failed")
	ErrLookup = errors.New("profile lookup failed")
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("account already exists")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrProfileNotFound    = errors.New("profile does not exist")
	ErrMessageNotFound    = errors.New("message does not exist")
	ErrNotAuthor          = errors.New("only the author can change a message")
	ErrBlankText          = errors.New("text must not be blank")
	ErrImageTooLarge      = errors.New("image exceeds size limit")
	ErrImageInvalid       = errors.New("image can not be decoded")
)
