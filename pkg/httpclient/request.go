package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Request describes one call to Execute. Only Method and URL are required.
//
// At most one body kind is sent. When several are set the first of Content,
// Data, JSON, Files wins and the rest are ignored.
type Request struct {
	Method string
	URL    string
	// Params replaces the session's default params when non-nil, even if empty.
	Params map[string]string
	// Headers override the session's default headers per name.
	Headers map[string]string
	// Cookies are stored in the session jar for URL before sending.
	Cookies map[string]string

	Content []byte
	// Data is sent form-encoded.
	Data map[string]string
	JSON any
	// Files maps multipart field names to file paths.
	Files map[string]string

	Auth       *BasicAuth
	AuthBearer string
	// Timeout overrides the session timeout for this call only.
	Timeout time.Duration
}

var methods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodDelete:  true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
}

func parseMethod(m string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(m))
	if !methods[method] {
		return "", fmt.Errorf("unsupported method %q", m)
	}
	return method, nil
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

// body is the single payload chosen for a request.
type body struct {
	data        []byte
	contentType string
}

// resolveBody applies the body precedence. Attachments are read only when
// they are the body that will be sent.
func resolveBody(ctx context.Context, r *Request, readFile func(string) ([]byte, error)) (body, error) {
	switch {
	case r.Content != nil:
		return body{data: r.Content}, nil
	case r.Data != nil:
		return body{
			data:        []byte(queryValues(r.Data).Encode()),
			contentType: "application/x-www-form-urlencoded",
		}, nil
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return body{}, fmt.Errorf("encoding json body: %w", err)
		}
		return body{data: b, contentType: "application/json"}, nil
	case len(r.Files) > 0:
		return multipartBody(ctx, r.Files, readFile)
	}
	return body{}, nil
}

type attachment struct {
	field string
	path  string
	data  []byte
}

func multipartBody(ctx context.Context, files map[string]string, readFile func(string) ([]byte, error)) (body, error) {
	fields := sortedKeys(files)
	parts := make([]attachment, len(fields))

	g, ctx := errgroup.WithContext(ctx)
	for i, field := range fields {
		path := files[field]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := readFile(path)
			if err != nil {
				return fmt.Errorf("reading file %s: %w", path, err)
			}
			parts[i] = attachment{field: field, path: path, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return body{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, filepath.Base(p.path))
		if err != nil {
			return body{}, fmt.Errorf("building multipart body: %w", err)
		}
		if _, err := fw.Write(p.data); err != nil {
			return body{}, fmt.Errorf("building multipart body: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return body{}, fmt.Errorf("building multipart body: %w", err)
	}
	return body{data: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}
