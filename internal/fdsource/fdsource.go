// Package fdsource asks the camera service for the descriptors behind a
// camera buffer handle: the frame segment ("buffer") and the writer-progress
// channel ("signal").
//
// The exchange is one datagram each way over a SOCK_SEQPACKET Unix socket.
// The request is JSON:
//
//	{"handle": 3, "type": "buffer"}
//
// The reply is JSON with "returnValue": true and exactly one descriptor
// passed as SCM_RIGHTS. Anything else is a failure.
package fdsource

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FdType selects which descriptor to request.
type FdType string

const (
	FdBuffer FdType = "buffer"
	FdSignal FdType = "signal"
)

var (
	// ErrRequestFailed is returned when the service answers without success.
	ErrRequestFailed = errors.New("fdsource: request failed")

	// ErrNoDescriptor is returned when a successful reply carries no single
	// descriptor.
	ErrNoDescriptor = errors.New("fdsource: reply carried no descriptor")
)

// DefaultTimeout bounds one request when the context has no deadline.
const DefaultTimeout = 3 * time.Second

// Request is sent to the camera service.
type Request struct {
	Handle int    `json:"handle"`
	Type   FdType `json:"type"`
}

// Response is the service's reply.
type Response struct {
	ReturnValue bool   `json:"returnValue"`
	ErrorCode   int    `json:"errorCode,omitempty"`
	ErrorText   string `json:"errorText,omitempty"`
}

// ClientName derives the per-process client name from an identifier. A
// separator is added unless the identifier already ends in '.' or '-'.
func ClientName(identifier string) string {
	if identifier != "" && !strings.HasSuffix(identifier, ".") && !strings.HasSuffix(identifier, "-") {
		identifier += "-"
	}

	return fmt.Sprintf("%scambuf_%s", identifier, uuid.NewString())
}
