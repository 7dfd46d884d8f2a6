package request

// Method is the closed set of request methods the server understands.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
)

var methodNames = map[Method]string{
	MethodGet:    "GET",
	MethodPost:   "POST",
	MethodPut:    "PUT",
	MethodDelete: "DELETE",
	MethodPatch:  "PATCH",
}

// ParseMethod maps a request-line token to a Method. Tokens are
// case-sensitive.
func ParseMethod(s string) (Method, bool) {
	for m, name := range methodNames {
		if name == s {
			return m, true
		}
	}
	return 0, false
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}
