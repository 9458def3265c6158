package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/BatmanBruc/bat-bot-uploader/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDailymotion struct {
	t          *testing.T
	srv        *httptest.Server
	grant      string
	tokenCalls int32
	uploaded   []byte
	created    map[string]string
	omitURL    bool
	createErr  string
}

func newFakeDailymotion(t *testing.T) *fakeDailymotion {
	f := &fakeDailymotion{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		f.grant = r.PostForm.Get("grant_type")
		if r.PostForm.Get("password") == "wrong" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid username or password"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/file/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, map[string]string{"upload_url": f.srv.URL + "/upload-target"})
	})
	mux.HandleFunc("/upload-target", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		f.uploaded, err = io.ReadAll(file)
		require.NoError(t, err)
		writeJSON(w, map[string]string{"url": "https://upload.example/file/1"})
	})
	mux.HandleFunc("/me/videos", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if f.createErr != "" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"`+f.createErr+`"}}`)
			return
		}
		f.created = map[string]string{}
		for k := range r.PostForm {
			f.created[k] = r.PostForm.Get(k)
		}
		if f.omitURL {
			writeJSON(w, map[string]string{"id": "x9"})
			return
		}
		writeJSON(w, map[string]string{"id": "x9", "url": "https://www.dailymotion.com/video/x9"})
	})
	mux.HandleFunc("/video/x9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"url": "https://www.dailymotion.com/video/x9-lookup"})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeDailymotion) config(apiType types.APIType) DailymotionConfig {
	return DailymotionConfig{
		APIKey:    "key",
		APISecret: "secret",
		Username:  "alice",
		Password:  "pw",
		APIType:   apiType,
		Category:  "travel",
		BaseURL:   f.srv.URL,
		TokenURL:  f.srv.URL + "/oauth/token",
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))
	return path
}

func TestDailymotionPublishPublicKey(t *testing.T) {
	f := newFakeDailymotion(t)
	dm, err := NewDailymotion(context.Background(), f.config(types.APITypePublic))
	require.NoError(t, err)

	url, err := dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "Sunset", Tags: []string{"#fun", "#cats"}})
	require.NoError(t, err)

	assert.Equal(t, "https://www.dailymotion.com/video/x9", url)
	assert.Equal(t, "password", f.grant)
	assert.Equal(t, "not really a video", string(f.uploaded))
	assert.Equal(t, "https://upload.example/file/1", f.created["url"])
	assert.Equal(t, "Sunset", f.created["title"])
	assert.Equal(t, "#fun,#cats", f.created["tags"])
	assert.Equal(t, "true", f.created["published"])
	assert.Equal(t, "travel", f.created["channel"])
}

func TestDailymotionPublishPrivateKeyUsesClientCredentials(t *testing.T) {
	f := newFakeDailymotion(t)
	cfg := f.config(types.APITypePrivate)
	cfg.Username, cfg.Password = "", ""
	dm, err := NewDailymotion(context.Background(), cfg)
	require.NoError(t, err)

	_, err = dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", f.grant)
}

func TestDailymotionLooksUpURLWhenMissing(t *testing.T) {
	f := newFakeDailymotion(t)
	f.omitURL = true
	dm, err := NewDailymotion(context.Background(), f.config(types.APITypePublic))
	require.NoError(t, err)

	url, err := dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "https://www.dailymotion.com/video/x9-lookup", url)
}

func TestDailymotionSurfacesAPIErrorMessage(t *testing.T) {
	f := newFakeDailymotion(t)
	f.createErr = "You reached your upload limit"
	dm, err := NewDailymotion(context.Background(), f.config(types.APITypePublic))
	require.NoError(t, err)

	_, err = dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "t"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "You reached your upload limit", err.Error())
}

func TestDailymotionSurfacesLoginFailure(t *testing.T) {
	f := newFakeDailymotion(t)
	cfg := f.config(types.APITypePublic)
	cfg.Password = "wrong"
	dm, err := NewDailymotion(context.Background(), cfg)
	require.NoError(t, err)

	_, err = dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "t"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
}

func TestDailymotionReusesToken(t *testing.T) {
	f := newFakeDailymotion(t)
	dm, err := NewDailymotion(context.Background(), f.config(types.APITypePublic))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = dm.Publish(context.Background(), Video{Path: writeVideo(t), Title: "t"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.tokenCalls))
}

func TestNewDailymotionValidatesCredentials(t *testing.T) {
	_, err := NewDailymotion(context.Background(), DailymotionConfig{APIType: types.APITypePublic})
	require.Error(t, err)

	_, err = NewDailymotion(context.Background(), DailymotionConfig{APIKey: "k", APISecret: "s", APIType: types.APITypePublic})
	require.Error(t, err, "public keys need a login")

	_, err = NewDailymotion(context.Background(), DailymotionConfig{APIKey: "k", APISecret: "s", APIType: "Other"})
	require.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":{"message":"bad"}}`)))
	assert.Equal(t, "described", errorMessage([]byte(`{"error":"invalid_grant","error_description":"described"}`)))
	assert.Equal(t, "invalid_grant", errorMessage([]byte(`{"error":"invalid_grant"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte(" plain text ")))
}
