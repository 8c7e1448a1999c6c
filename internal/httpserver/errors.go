package httpserver

const (
	ErrInvalidJSON = "invalid json"
	ErrDependency  = "dependency error"
	ErrNotFound    = "not found"
	ErrNoSmsID     = "no SMS ID associated with this notification"
)
