package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Privacy is public, unlisted or private.
	Privacy string
}

// YouTube publishes with a long lived refresh token through the Data API.
type YouTube struct {
	svc     *yt.Service
	privacy string
}

// NewYouTube builds the client. Extra options replace the default token source,
// which tests use to point it at a local server.
func NewYouTube(ctx context.Context, cfg YouTubeConfig, opts ...option.ClientOption) (*YouTube, error) {
	if len(opts) == 0 {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
			return nil, errors.New("youtube: client id, client secret and refresh token are required")
		}
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{yt.YoutubeUploadScope},
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = []option.ClientOption{option.WithTokenSource(ts)}
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: %w", err)
	}
	privacy := cfg.Privacy
	if privacy == "" {
		privacy = "public"
	}
	return &YouTube{svc: svc, privacy: privacy}, nil
}

func (y *YouTube) Publish(ctx context.Context, v Video) (string, error) {
	f, err := os.Open(v.Path)
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{Title: v.Title, Tags: v.Tags},
		Status: &yt.VideoStatus{
			PrivacyStatus:           y.privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
	res, err := y.svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &APIError{Status: gerr.Code, Message: gerr.Message}
		}
		return "", fmt.Errorf("youtube upload: %w", err)
	}
	if res.Id == "" {
		return "", &APIError{Status: 200, Message: "youtube upload returned an empty id"}
	}
	return "https://www.youtube.com/watch?v=" + res.Id, nil
}
