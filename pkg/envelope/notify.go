package envelope

// ErrorEventType is the tag of the notification a server sends back to a
// peer whose message could not be dispatched.
const ErrorEventType = "ServerSendsErrorMessage"

// ErrorMessage is the payload of an ErrorEventType envelope.
type ErrorMessage struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	EventType string `json:"failedEventType,omitempty"`
	Filter    string `json:"filter,omitempty"`
}
