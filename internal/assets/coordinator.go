// Package assets coordinates image uploads and deletions against the object
// store so that records never reference a missing asset and abandoned
// uploads do not linger.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bizdir/internal/blob"
	"bizdir/internal/fields"
	"bizdir/pkg/domain"
)

// KeyPrefix is the object store folder for business images.
const KeyPrefix = "businesses"

// Coordinator uploads and deletes image assets.
type Coordinator struct {
	store     blob.Store
	policy    fields.ImagePolicy
	limiter   *rate.Limiter
	publicURL string
	newID     func() string
	logger    *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy overrides the image limits applied before upload.
func WithPolicy(p fields.ImagePolicy) Option { return func(c *Coordinator) { c.policy = p } }

// WithLimiter throttles uploads.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithPublicBaseURL builds asset URLs from a fixed prefix instead of the
// URL reported by the store.
func WithPublicBaseURL(u string) Option { return func(c *Coordinator) { c.publicURL = u } }

// WithIDGenerator replaces the uuid source used in object keys.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a coordinator over store.
func New(store blob.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		policy:  fields.DefaultImagePolicy(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store exposes the underlying object store.
func (c *Coordinator) Store() blob.Store { return c.store }

// Key builds the object key for a file owned by owner.
func (c *Coordinator) Key(owner, filename string) string {
	return path.Join(KeyPrefix, safeSegment(owner), c.newID()+"-"+safeSegment(filename))
}

func safeSegment(s string) string {
	s = path.Base(strings.ReplaceAll(strings.TrimSpace(s), "\\", "/"))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
	if s == "" || s == "." || s == "/" {
		return "file"
	}
	return s
}

// inspect validates the file and reads its dimensions. Formats without a
// registered decoder (webp) are accepted with unknown dimensions.
func (c *Coordinator) inspect(f domain.UploadFile) (width, height int, format string, err error) {
	if err := c.policy.Check(f); err != nil {
		return 0, 0, "", err
	}
	contentType := fields.ContentType(f)
	format = strings.TrimPrefix(contentType, "image/")
	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(f.Data))
	switch {
	case err == nil:
		return cfg.Width, cfg.Height, decoded, nil
	case errors.Is(err, image.ErrFormat) && contentType == "image/webp":
		return 0, 0, format, nil
	default:
		return 0, 0, "", fmt.Errorf("%s is not a readable %s image: %w", f.Name, format, err)
	}
}

// UploadBatch uploads files one at a time. Either every file is stored or
// none is: on the first failure the files already uploaded in this batch are
// deleted and an UploadError naming the failing file is returned.
func (c *Coordinator) UploadBatch(ctx context.Context, owner string, files []domain.UploadFile) ([]domain.ImageAsset, error) {
	uploaded := make([]domain.ImageAsset, 0, len(files))
	for i, f := range files {
		asset, err := c.uploadOne(ctx, owner, f)
		if err != nil {
			compensated := c.Compensate(ctx, uploaded)
			c.logger.Warn("upload batch failed",
				zap.String("owner", owner),
				zap.Int("file_index", i+1),
				zap.String("file", f.Name),
				zap.Int("compensated", len(compensated)),
				zap.Error(err),
			)
			return nil, domain.UploadError{File: f.Name, Index: i, Err: err, Compensated: compensated}
		}
		uploaded = append(uploaded, asset)
	}
	if len(uploaded) > 0 {
		c.logger.Debug("upload batch stored", zap.String("owner", owner), zap.Int("files", len(uploaded)))
	}
	return uploaded, nil
}

func (c *Coordinator) uploadOne(ctx context.Context, owner string, f domain.UploadFile) (domain.ImageAsset, error) {
	width, height, format, err := c.inspect(f)
	if err != nil {
		return domain.ImageAsset{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ImageAsset{}, err
	}
	key := c.Key(owner, f.Name)
	info, err := c.store.Put(ctx, key, bytes.NewReader(f.Data), blob.PutOptions{
		ContentType: fields.ContentType(f),
		Metadata:    map[string]string{"filename": f.Name, "owner": owner},
	})
	if err != nil {
		return domain.ImageAsset{}, err
	}
	url := info.URL
	if c.publicURL != "" {
		url = strings.TrimRight(c.publicURL, "/") + "/" + key
	}
	return domain.ImageAsset{
		Handle:   key,
		URL:      url,
		Filename: f.Name,
		Size:     f.Size(),
		Width:    width,
		Height:   height,
		Format:   format,
	}, nil
}

// DeleteAsset removes one object. false means the store did not confirm the
// deletion and the reference must be kept.
func (c *Coordinator) DeleteAsset(ctx context.Context, handle string) (bool, error) {
	return c.store.Delete(ctx, handle)
}

// Release deletes every asset and returns the handles whose deletion was
// confirmed. Unconfirmed deletions are joined into the returned error as
// AssetDeletionError values.
func (c *Coordinator) Release(ctx context.Context, assets []domain.ImageAsset) ([]string, error) {
	var confirmed []string
	var errs []error
	for _, a := range assets {
		ok, err := c.DeleteAsset(ctx, a.Handle)
		if err != nil || !ok {
			errs = append(errs, domain.AssetDeletionError{Handle: a.Handle, Err: err})
			continue
		}
		confirmed = append(confirmed, a.Handle)
	}
	return confirmed, errors.Join(errs...)
}

// Compensate deletes assets on a best-effort basis, logging failures, and
// returns the handles it removed. It runs on a context detached from
// cancellation so a cancelled batch still cleans up.
func (c *Coordinator) Compensate(ctx context.Context, assets []domain.ImageAsset) []string {
	ctx = context.WithoutCancel(ctx)
	var removed []string
	for _, a := range assets {
		ok, err := c.DeleteAsset(ctx, a.Handle)
		if err != nil || !ok {
			c.logger.Error("orphaned asset left in object store", zap.String("handle", a.Handle), zap.Bool("confirmed", ok), zap.Error(err))
			continue
		}
		removed = append(removed, a.Handle)
	}
	return removed
}

// Stored lists every business image object in the store.
func (c *Coordinator) Stored(ctx context.Context) ([]blob.Info, error) {
	return c.store.List(ctx, KeyPrefix+"/")
}

// Open streams the object behind handle. The caller closes the reader.
func (c *Coordinator) Open(ctx context.Context, handle string) (blob.Info, io.ReadCloser, error) {
	if err := checkHandle(handle); err != nil {
		return blob.Info{}, nil, err
	}
	return c.store.Get(ctx, handle)
}

// SignedURL returns a time-limited download URL for handle. Stores that
// cannot sign fall back to the public URL of the object.
func (c *Coordinator) SignedURL(ctx context.Context, handle string, expiry time.Duration) (string, error) {
	if err := checkHandle(handle); err != nil {
		return "", err
	}
	url, err := c.store.PresignURL(ctx, handle, blob.SignedURLOptions{Method: http.MethodGet, Expiry: expiry})
	if !errors.Is(err, blob.ErrUnsupported) {
		return url, err
	}
	info, herr := c.store.Head(ctx, handle)
	if herr != nil {
		return "", herr
	}
	switch {
	case c.publicURL != "":
		return strings.TrimRight(c.publicURL, "/") + "/" + handle, nil
	case info.URL != "":
		return info.URL, nil
	}
	return "", err
}

func checkHandle(handle string) error {
	if !strings.HasPrefix(handle, KeyPrefix+"/") || strings.Contains(handle, "..") {
		return fmt.Errorf("%q is not an image handle", handle)
	}
	return nil
}
