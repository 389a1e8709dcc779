package invite

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	// MessageEmailSent is the body of a successful invocation.
	MessageEmailSent = "Email sent"
	// MessageSpecifyRecipients is the body of an invocation without recipients.
	MessageSpecifyRecipients = "Specify recipients in event"
)

// Response is the invocation result. Body always holds a JSON-encoded string.
type Response struct {
	StatusCode int    `json:"statusCode" yaml:"statusCode"`
	Body       string `json:"body" yaml:"body"`
}

func newResponse(status int, message string) Response {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(message); err != nil {
		return Response{StatusCode: status, Body: strconv.Quote(message)}
	}
	return Response{StatusCode: status, Body: string(bytes.TrimRight(b.Bytes(), "\n"))}
}

// SuccessResponse is returned once every recipient has been sent to.
func SuccessResponse() Response {
	return newResponse(http.StatusOK, MessageEmailSent)
}

// InvalidInputResponse is returned when the event names no recipients.
func InvalidInputResponse() Response {
	return newResponse(http.StatusInternalServerError, MessageSpecifyRecipients)
}

// FailureResponse carries the error text of a failed delivery.
func FailureResponse(err error) Response {
	return newResponse(http.StatusInternalServerError, err.Error())
}

// Message decodes Body back to plain text. A body that is not a JSON string
// is returned as is.
func (r Response) Message() string {
	var s string
	if err := json.Unmarshal([]byte(r.Body), &s); err != nil {
		return r.Body
	}
	return s
}

// OK reports whether the invocation succeeded.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}
