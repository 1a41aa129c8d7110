package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadBytes caps a single media upload.
const MaxUploadBytes = 10 << 20

// Media kinds accepted by Upload.
const (
	KindImage = "image"
	KindVoice = "voice"
)

var (
	// ErrTooLarge is returned when the media exceeds MaxUploadBytes.
	ErrTooLarge = errors.New("api: media too large")
	// ErrUnsupportedMedia is returned when the detected MIME type does not
	// match the requested kind.
	ErrUnsupportedMedia = errors.New("api: unsupported media type")
)

// DetectMedia sniffs data and checks it is acceptable for kind. It returns
// the detected MIME type and the file extension.
func DetectMedia(kind string, data []byte) (mime, ext string, err error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("%w: empty file", ErrUnsupportedMedia)
	}
	if len(data) > MaxUploadBytes {
		return "", "", ErrTooLarge
	}

	m := mimetype.Detect(data)
	switch kind {
	case KindImage:
		if !strings.HasPrefix(m.String(), "image/") {
			return "", "", fmt.Errorf("%w: %s is not an image", ErrUnsupportedMedia, m.String())
		}
	case KindVoice:
		// Browsers record to webm/ogg containers, which sniff as video/ or
		// application/ depending on the codec.
		if !m.Is("audio/webm") && !m.Is("video/webm") && !m.Is("audio/ogg") &&
			!strings.HasPrefix(m.String(), "audio/") {
			return "", "", fmt.Errorf("%w: %s is not audio", ErrUnsupportedMedia, m.String())
		}
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrUnsupportedMedia, kind)
	}
	return m.String(), m.Extension(), nil
}

// Upload stores media on the server and returns its URL.
func (c *Client) Upload(ctx context.Context, userID, kind, name string, data []byte) (string, error) {
	mime, ext, err := DetectMedia(kind, data)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = kind
	}
	if ext != "" && !strings.HasSuffix(name, ext) {
		name += ext
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("userId", userID); err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}
	if err := w.WriteField("kind", kind); err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("api: upload: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out struct {
		URL string `json:"url"`
	}
	if err := c.send("upload", req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("api: upload: response has no url")
	}
	return out.URL, nil
}
