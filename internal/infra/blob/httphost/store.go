// Package httphost implements the object store against an external image
// hosting API over HTTP. The host stores uploads under caller chosen keys and
// serves them from its own CDN URL.
//
//	POST   /images          multipart upload (fields: key, file, meta.*)
//	GET    /images/{key}    object bytes
//	HEAD   /images/{key}    object metadata
//	DELETE /images/{key}    204 when removed, 404 when absent
//	GET    /images?prefix=  JSON listing
package httphost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bizdir/internal/blob/core"
)

// Config configures the image host client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int
}

// Store implements core.Store over the image host API.
type Store struct {
	client *resty.Client
}

type objectDTO struct {
	Key         string            `json:"key"`
	URL         string            `json:"url"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type listDTO struct {
	Items []objectDTO `json:"items"`
}

type errorDTO struct {
	Error string `json:"error"`
}

// New builds a client for the host at cfg.BaseURL.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("image host base URL required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("image host base URL: %w", err)
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Store{client: client}, nil
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverHTTPHost }

func objectPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	segments := strings.Split(strings.Trim(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/images/" + strings.Join(segments, "/"), nil
}

func (o objectDTO) info() core.Info {
	return core.Info{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		Metadata:     o.Metadata,
		LastModified: o.UpdatedAt,
		URL:          o.URL,
	}
}

func statusError(op, key string, resp *resty.Response) error {
	msg := strings.TrimSpace(string(resp.Body()))
	if e, ok := resp.Error().(*errorDTO); ok && e.Error != "" {
		msg = e.Error
	}
	return fmt.Errorf("image host %s %s: status %d: %s", op, key, resp.StatusCode(), msg)
}

// Put uploads the object as multipart form data.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if _, err := objectPath(key); err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	form := map[string]string{"key": key}
	for k, v := range opts.Metadata {
		form["meta."+k] = v
	}
	name := key[strings.LastIndex(key, "/")+1:]
	var out objectDTO
	req := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&errorDTO{})
	if opts.ContentType != "" {
		req.SetMultipartField("file", name, opts.ContentType, bytes.NewReader(data))
	} else {
		req.SetFileReader("file", name, bytes.NewReader(data))
	}
	resp, err := req.Post("/images")
	if err != nil {
		return core.Info{}, fmt.Errorf("image host upload %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		if out.Key == "" {
			out.Key = key
		}
		return out.info(), nil
	case http.StatusConflict:
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	default:
		return core.Info{}, statusError("upload", key, resp)
	}
}

func headerInfo(key string, h http.Header) core.Info {
	size, _ := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	lm, _ := http.ParseTime(h.Get("Last-Modified"))
	return core.Info{
		Key:          key,
		Size:         size,
		ContentType:  h.Get("Content-Type"),
		ETag:         strings.Trim(h.Get("ETag"), `"`),
		LastModified: lm,
		URL:          h.Get("X-Image-URL"),
	}
}

// Get downloads the object.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	path, err := objectPath(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	resp, err := s.client.R().SetContext(ctx).SetError(&errorDTO{}).Get(path)
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("image host get %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		info := headerInfo(key, resp.Header())
		info.Size = int64(len(resp.Body()))
		return info, io.NopCloser(bytes.NewReader(resp.Body())), nil
	case http.StatusNotFound:
		return core.Info{}, nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	default:
		return core.Info{}, nil, statusError("get", key, resp)
	}
}

// Head fetches object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	path, err := objectPath(key)
	if err != nil {
		return core.Info{}, err
	}
	resp, err := s.client.R().SetContext(ctx).Head(path)
	if err != nil {
		return core.Info{}, fmt.Errorf("image host head %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return headerInfo(key, resp.Header()), nil
	case http.StatusNotFound:
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	default:
		return core.Info{}, statusError("head", key, resp)
	}
}

// Delete removes the object; a 404 is reported as an unconfirmed deletion.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	path, err := objectPath(key)
	if err != nil {
		return false, err
	}
	resp, err := s.client.R().SetContext(ctx).SetError(&errorDTO{}).Delete(path)
	if err != nil {
		return false, fmt.Errorf("image host delete %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("delete", key, resp)
	}
}

// List returns the objects under prefix in the order the host reports.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var out listDTO
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("prefix", prefix).
		SetResult(&out).
		SetError(&errorDTO{}).
		Get("/images")
	if err != nil {
		return nil, fmt.Errorf("image host list %s: %w", prefix, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("list", prefix, resp)
	}
	infos := make([]core.Info, 0, len(out.Items))
	for _, item := range out.Items {
		infos = append(infos, item.info())
	}
	return infos, nil
}

// PresignURL is not offered by the image host; objects are public.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
