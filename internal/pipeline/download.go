package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

var ErrDownload = errors.New("download failed")

// download fetches the media into a fresh temp file. The returned release removes
// it; on error nothing is left on disk.
func (p *Pipeline) download(ctx context.Context, fileID string) (string, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()

	link, err := p.media.ResolveDownloadLocation(ctx, fileID)
	if err != nil {
		return "", nil, fmt.Errorf("%w: resolve file: %w", ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrDownload, stripURL(err))
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: get %s: %w", ErrDownload, redact(link), stripURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	out, err := os.CreateTemp(p.cfg.TempDir, "upload-*"+extension(link))
	if err != nil {
		return "", nil, fmt.Errorf("%w: create temp file: %w", ErrDownload, err)
	}
	name := out.Name()
	release := func() { _ = os.Remove(name) }

	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		release()
		return "", nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return name, release, nil
}

// stripURL drops the request URL from err. Telegram file links carry the bot token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// redact keeps only the scheme and host of link.
func redact(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "<file link>"
	}
	return u.Scheme + "://" + u.Host
}

func extension(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ".mp4"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 6 {
		return ".mp4"
	}
	return ext
}
