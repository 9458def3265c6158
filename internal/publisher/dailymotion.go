package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BatmanBruc/bat-bot-uploader/types"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	dailymotionPublicURL  = "https://api.dailymotion.com"
	dailymotionPartnerURL = "https://partner.api.dailymotion.com"
)

var dailymotionScopes = []string{"manage_videos"}

type DailymotionConfig struct {
	APIKey    string
	APISecret string
	Username  string
	Password  string
	APIType   types.APIType
	// Category is sent as the video channel when set.
	Category string

	// BaseURL and TokenURL override the endpoints picked from APIType.
	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client
}

// Dailymotion publishes through the Dailymotion REST API. Public keys log in
// with the account password; private keys use the partner client credentials grant.
type Dailymotion struct {
	client   *http.Client
	base     string
	category string
}

func NewDailymotion(ctx context.Context, cfg DailymotionConfig) (*Dailymotion, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("dailymotion: api key and secret are required")
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	var (
		ts   oauth2.TokenSource
		base string
	)
	switch cfg.APIType {
	case types.APITypePrivate:
		base = dailymotionPartnerURL + "/rest"
		tokenURL := dailymotionPartnerURL + "/oauth/v1/token"
		if cfg.TokenURL != "" {
			tokenURL = cfg.TokenURL
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.APIKey,
			ClientSecret: cfg.APISecret,
			TokenURL:     tokenURL,
			Scopes:       dailymotionScopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		ts = cc.TokenSource(ctx)
	case types.APITypePublic, "":
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("dailymotion: public keys need username and password")
		}
		base = dailymotionPublicURL
		tokenURL := dailymotionPublicURL + "/oauth/token"
		if cfg.TokenURL != "" {
			tokenURL = cfg.TokenURL
		}
		oc := &oauth2.Config{
			ClientID:     cfg.APIKey,
			ClientSecret: cfg.APISecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       dailymotionScopes,
		}
		ts = oauth2.ReuseTokenSource(nil, &passwordSource{ctx: ctx, conf: oc, username: cfg.Username, password: cfg.Password})
	default:
		return nil, fmt.Errorf("dailymotion: unknown api type %q", cfg.APIType)
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	return &Dailymotion{
		client:   oauth2.NewClient(ctx, ts),
		base:     strings.TrimRight(base, "/"),
		category: cfg.Category,
	}, nil
}

// passwordSource performs the resource owner password grant. Wrapped in a
// ReuseTokenSource it runs again only after the token expired.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := p.conf.PasswordCredentialsToken(p.ctx, p.username, p.password)
	if err != nil {
		return nil, authError(err)
	}
	return tok, nil
}

func (d *Dailymotion) Publish(ctx context.Context, v Video) (string, error) {
	var up struct {
		UploadURL string `json:"upload_url"`
	}
	if err := d.call(ctx, http.MethodGet, d.base+"/file/upload", nil, &up); err != nil {
		return "", err
	}
	if up.UploadURL == "" {
		return "", &APIError{Status: http.StatusOK, Message: "dailymotion did not return an upload url"}
	}

	fileURL, err := d.uploadFile(ctx, up.UploadURL, v.Path)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("url", fileURL)
	form.Set("title", v.Title)
	form.Set("tags", strings.Join(v.Tags, ","))
	form.Set("published", "true")
	form.Set("is_created_for_kids", "false")
	if d.category != "" {
		form.Set("channel", d.category)
	}
	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := d.call(ctx, http.MethodPost, d.base+"/me/videos?fields=id,url", form, &created); err != nil {
		return "", err
	}
	if created.URL != "" {
		return created.URL, nil
	}
	if created.ID == "" {
		return "", &APIError{Status: http.StatusOK, Message: "dailymotion did not return a video id"}
	}

	var video struct {
		URL string `json:"url"`
	}
	if err := d.call(ctx, http.MethodGet, d.base+"/video/"+url.PathEscape(created.ID)+"?fields=url", nil, &video); err != nil {
		return "", err
	}
	if video.URL == "" {
		return "", &APIError{Status: http.StatusOK, Message: "dailymotion did not return a video url"}
	}
	return video.URL, nil
}

// uploadFile streams the file to the upload server as multipart form data.
func (d *Dailymotion) uploadFile(ctx context.Context, uploadURL, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res struct {
		URL string `json:"url"`
	}
	if err := d.do(req, &res); err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}
	if res.URL == "" {
		return "", &APIError{Status: http.StatusOK, Message: "dailymotion upload did not return a file url"}
	}
	return res.URL, nil
}

func (d *Dailymotion) call(ctx context.Context, method, endpoint string, form url.Values, dest any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return d.do(req, dest)
}

func (d *Dailymotion) do(req *http.Request, dest any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return authError(rerr)
		}
		var aerr *APIError
		if errors.As(err, &aerr) {
			return aerr
		}
		return fmt.Errorf("dailymotion %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("dailymotion %s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("dailymotion %s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// errorMessage extracts the message from {"error":{"message":...}} or an OAuth error body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Error json.RawMessage `json:"error"`
		Desc  string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(apiErr.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if apiErr.Desc != "" {
			return apiErr.Desc
		}
		var flat string
		if json.Unmarshal(apiErr.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return strings.TrimSpace(string(body))
}

func authError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := http.StatusUnauthorized
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		msg := rerr.ErrorDescription
		if msg == "" {
			msg = errorMessage(rerr.Body)
		}
		return &APIError{Status: status, Message: msg}
	}
	return err
}
