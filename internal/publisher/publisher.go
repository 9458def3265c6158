// Package publisher uploads finished videos to a hosting platform.
package publisher

import (
	"context"
	"errors"
	"fmt"
)

type Video struct {
	Path  string
	Title string
	Tags  []string
}

type Publisher interface {
	// Publish uploads the file at v.Path and returns the public URL of the video.
	Publish(ctx context.Context, v Video) (string, error)
}

var ErrNoPublisher = errors.New("no hosting account registered for this chat, use /register")

// APIError is a failure reported by the hosting API. Message is shown to the user as is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hosting API returned status %d", e.Status)
	}
	return e.Message
}
