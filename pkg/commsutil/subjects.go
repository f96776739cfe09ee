package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectDispatch        = "socket.dispatch.v1"
	SubjectConnectionEvent = "socket.connections"
)

// BuildConnectionSubject builds the per-kind subject for connection events.
func BuildConnectionSubject(base, kind string) string {
	return fmt.Sprintf("%s.%s", base, strings.ToLower(kind))
}

// BuildDispatchSubject builds a dispatch subject for a named service and protocol major.
func BuildDispatchSubject(service string, major int) string {
	safe := strings.ReplaceAll(service, ".", "_")
	return fmt.Sprintf("socket.%s.v%d", safe, major)
}
