package website

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/abdulachik/multipost/internal/submission"
)

// ErrorKind classifies a failed post.
type ErrorKind string

const (
	// KindAuth means the site rejected the session; the user must log in again.
	KindAuth ErrorKind = "auth"
	// KindProtocol means the site answered with an error or an unexpected shape.
	KindProtocol ErrorKind = "protocol"
	// KindTransport means the request never completed. Eligible for re-queue.
	KindTransport ErrorKind = "transport"
	// KindUnsupported means the adapter cannot post this kind of submission.
	KindUnsupported ErrorKind = "unsupported"
	// KindCancelled means the user cancelled the post between protocol steps.
	KindCancelled ErrorKind = "cancelled"
)

// ErrCancelled is returned by PostData.Cancelled after cancellation.
var ErrCancelled = errors.New("post cancelled")

// PostError is a failed post with the raw site response kept for debugging.
type PostError struct {
	Site    string
	Kind    ErrorKind
	Message string
	Payload string
	Err     error
}

func (e *PostError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Site, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-queueing the site may help.
func (e *PostError) Retryable() bool {
	return e.Kind == KindTransport
}

// Classify turns any adapter error into a *PostError for site.
func Classify(site string, err error) *PostError {
	if err == nil {
		return nil
	}

	var pe *PostError
	if errors.As(err, &pe) {
		if pe.Site == "" {
			pe.Site = site
		}
		return pe
	}

	if errors.Is(err, ErrCancelled) {
		return &PostError{Site: site, Kind: KindCancelled, Message: "cancelled", Err: err}
	}

	return &PostError{Site: site, Kind: KindProtocol, Message: "unexpected error", Err: err}
}

func transportError(site string, err error) *PostError {
	if errors.Is(err, context.Canceled) {
		return &PostError{Site: site, Kind: KindCancelled, Message: "request cancelled", Err: err}
	}

	msg := "network error"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		msg = "request timed out"
	}
	return &PostError{Site: site, Kind: KindTransport, Message: msg, Err: err}
}

func protocolError(site, msg string, payload []byte) *PostError {
	return &PostError{Site: site, Kind: KindProtocol, Message: msg, Payload: string(payload)}
}

func authError(site, msg string, payload []byte) *PostError {
	return &PostError{Site: site, Kind: KindAuth, Message: msg, Payload: string(payload)}
}

func unsupportedError(site string, t submission.Type) *PostError {
	return &PostError{Site: site, Kind: KindUnsupported, Message: fmt.Sprintf("submission type %q is not supported", t)}
}
