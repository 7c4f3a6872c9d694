package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// TaskState is the value stored for a task id. Solution is only set when
// completed, Message only when error.
type TaskState struct {
	Status   Status `json:"status"`
	Solution string `json:"solution,omitempty"`
	Message  string `json:"message,omitempty"`
}

func Pending() TaskState { return TaskState{Status: StatusPending} }

func Completed(solution string) TaskState {
	return TaskState{Status: StatusCompleted, Solution: solution}
}

func Failed(message string) TaskState {
	return TaskState{Status: StatusError, Message: message}
}

// Terminal reports whether no further transition can happen.
func (s TaskState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

// Valid checks the three-state shape.
func (s TaskState) Valid() bool {
	switch s.Status {
	case StatusPending:
		return s.Solution == "" && s.Message == ""
	case StatusCompleted:
		return s.Solution != "" && s.Message == ""
	case StatusError:
		return s.Message != "" && s.Solution == ""
	}
	return false
}

// Image is a decoded submission payload.
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 re-encodes the payload for providers that want inline text.
func (i Image) Base64() string { return base64.StdEncoding.EncodeToString(i.Data) }

var ErrEmptyImage = errors.New("empty image payload")

// DecodeImage decodes a base64 payload, accepting an optional data: URL prefix.
func DecodeImage(b64, mimeType string) (Image, error) {
	s := strings.TrimSpace(b64)
	if i := strings.Index(s, ","); i != -1 && strings.HasPrefix(strings.ToLower(s[:i]), "data:") {
		s = s[i+1:]
	}
	if s == "" {
		return Image{}, ErrEmptyImage
	}
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some clients drop the padding
		var rawErr error
		buf, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return Image{}, fmt.Errorf("invalid base64: %w", err)
		}
	}
	if len(buf) == 0 {
		return Image{}, ErrEmptyImage
	}
	return Image{MIMEType: strings.TrimSpace(mimeType), Data: buf}, nil
}
