package service

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPrompt is the input validation failure for a blank prompt.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrEmptyStoryboard means the backend returned zero scenes.
	ErrEmptyStoryboard = errors.New("empty storyboard")

	ErrGenerationActive = errors.New("a generation run is already active")
	ErrExportActive     = errors.New("an export is already active")
	ErrNoImages         = errors.New("no images to export")
	ErrQueueClosed      = errors.New("generation queue shut down")
)

const unknownErrorMessage = "An unknown error occurred."

var userMessages = []struct {
	err error
	msg string
}{
	{ErrEmptyPrompt, "Please enter a prompt for your video idea."},
	{ErrEmptyStoryboard, "The AI failed to create a storyboard. Please try a different prompt."},
}

type BackendErrorKind string

const (
	EmptyResponseBody BackendErrorKind = "empty_response_body"
	MalformedJSON     BackendErrorKind = "malformed_json"
	NonSuccessStatus  BackendErrorKind = "non_success_status"
	Transport         BackendErrorKind = "transport"
)

// BackendError is every failure of a relay round trip.
type BackendError struct {
	Kind    BackendErrorKind
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

type EncoderStage string

const (
	EncoderInit  EncoderStage = "init"
	EncoderWrite EncoderStage = "write"
	EncoderExec  EncoderStage = "exec"
	EncoderRead  EncoderStage = "read"
)

type EncoderError struct {
	Stage EncoderStage
	Err   error
}

func (e *EncoderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("encoder %s failed", e.Stage)
	}
	return e.Err.Error()
}

func (e *EncoderError) Unwrap() error {
	return e.Err
}

// Describe turns any failure into one human-readable line, falling back to a
// generic message when err carries none.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownErrorMessage
}
