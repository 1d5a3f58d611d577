package v1

var (
	// common errors
	ErrSuccess             = newError(0, "ok")
	ErrBadRequest          = newError(400, "bad request")
	ErrUnauthorized        = newError(401, "unauthorized")
	ErrForbidden           = newError(403, "forbidden")
	ErrNotFound            = newError(404, "not found")
	ErrInternalServerError = newError(500, "internal server error")

	// instance lifecycle errors
	ErrInstanceConflict = newError(3001, "an active instance already exists for this content and group")
	ErrQueueFull        = newError(3002, "launch queue is full, retry later")
	ErrContentNotFound  = newError(3003, "content not found")
	ErrSecretNotReady   = newError(3004, "secret not ready")
	ErrSecretBackend    = newError(3005, "secret backend unavailable")
	ErrInvalidState     = newError(3006, "invalid instance state")
)
