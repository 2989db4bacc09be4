package utils

// ResponseData is the envelope every REST endpoint answers with.
type ResponseData struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Results interface{} `json:"results,omitempty"`
}

// PanicIfNeeded panics on error so the recovery middleware can translate
// typed errors into their HTTP responses.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}
