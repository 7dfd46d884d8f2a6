package response

type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusCreated             StatusCode = 201
	StatusBadRequest          StatusCode = 400
	StatusNotFound            StatusCode = 404
	StatusMethodNotAllowed    StatusCode = 405
	StatusContentTooLarge     StatusCode = 413
	StatusInternalServerError StatusCode = 500
	StatusServiceUnavailable  StatusCode = 503
)

// Reason returns the reason phrase sent on the status line, or "" for a
// code this package does not know.
func (s StatusCode) Reason() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCreated:
		return "Created"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusContentTooLarge:
		return "Content Too Large"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return ""
	}
}
