// Package images resolves item pictures. A source is a local file or an
// http(s) URL; either way the picture is decoded, flattened onto white,
// shrunk to fit the configured box and re-encoded under the database's
// Images directory. Callers store the returned relative path.
package images

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Dir is the folder, relative to the database file, holding stored images.
const Dir = "Images"

// Defaults applied to zero ImageConfig fields.
const (
	DefaultMaxWidth  = 800
	DefaultMaxHeight = 600
	DefaultQuality   = 85
	DefaultFormat    = "jpeg"
)

const providerName = "images"

// maxDownload caps the bytes read from one URL.
const maxDownload = 20 << 20

var errNotImage = errors.New("source is not a decodable image")

// Resolver fetches and stores images next to one database file.
type Resolver struct {
	root    string
	cfg     types.ImageConfig
	http    *http.Client
	logger  *zap.Logger
	retries uint64
	backoff func() backoff.BackOff
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(r *Resolver) { r.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRetry sets the retry count per URL candidate and the backoff policy.
func WithRetry(retries uint64, policy func() backoff.BackOff) Option {
	return func(r *Resolver) {
		r.retries = retries
		if policy != nil {
			r.backoff = policy
		}
	}
}

// New returns a resolver writing below root, normally the directory holding
// the database file.
func New(root string, cfg types.ImageConfig, opts ...Option) *Resolver {
	if cfg.MaxWidth == 0 {
		cfg.MaxWidth = DefaultMaxWidth
	}
	if cfg.MaxHeight == 0 {
		cfg.MaxHeight = DefaultMaxHeight
	}
	if cfg.Quality == 0 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	r := &Resolver{
		root:    root,
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		retries: 2,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve stores the picture at source as name and returns its path
// relative to root, always with forward slashes.
func (r *Resolver) Resolve(ctx context.Context, source, name string) (string, error) {
	var (
		img image.Image
		err error
	)
	if isURL(source) {
		img, err = r.fetch(ctx, source)
	} else {
		img, err = decodeFile(source)
	}
	if err != nil {
		return "", &types.ProviderError{Provider: providerName, Item: source, Err: err}
	}

	out := Normalize(img, r.cfg.MaxWidth, r.cfg.MaxHeight)
	ext := "jpg"
	if r.cfg.Format == "png" {
		ext = "png"
	}
	rel := path.Join(Dir, FileName(name)+"."+ext)
	dst := filepath.Join(r.root, filepath.FromSlash(rel))
	err = storage.WriteFileAtomic(dst, func(w io.Writer) error {
		if ext == "png" {
			return png.Encode(w, out)
		}
		return jpeg.Encode(w, out, &jpeg.Options{Quality: r.cfg.Quality})
	})
	if err != nil {
		return "", &types.ProviderError{Provider: providerName, Item: source, Err: err}
	}
	r.logger.Info("image stored", zap.String("source", source), zap.String("path", rel))
	return rel, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func decodeFile(name string) (image.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotImage, err)
	}
	return img, nil
}

// fetch tries each spelling of the URL in turn, retrying transient failures
// of a candidate with exponential backoff.
func (r *Resolver) fetch(ctx context.Context, raw string) (image.Image, error) {
	var errs []error
	for _, candidate := range URLCandidates(raw) {
		var img image.Image
		op := func() error {
			var err error
			img, err = r.download(ctx, candidate)
			return err
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(r.backoff(), r.retries), ctx)
		err := backoff.Retry(op, policy)
		if err == nil {
			return img, nil
		}
		r.logger.Debug("image candidate failed", zap.String("url", candidate), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (r *Resolver) download(ctx context.Context, u string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", errNotImage, err))
	}
	return img, nil
}

// URLCandidates returns the distinct spellings of raw worth trying: as
// given, with the path percent-encoded, and with the path decoded.
func URLCandidates(raw string) []string {
	out := []string{raw}
	add := func(s string) {
		for _, have := range out {
			if have == s {
				return
			}
		}
		out = append(out, s)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	enc := *u
	enc.RawPath = ""
	add(enc.String())
	if dec, err := url.PathUnescape(u.EscapedPath()); err == nil {
		add(u.Scheme + "://" + u.Host + dec + querySuffix(u))
	}
	return out
}

func querySuffix(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// Normalize draws img onto an opaque white canvas, shrinking it to fit
// within maxW x maxH while keeping its aspect ratio. Smaller images keep
// their size. A zero bound is unlimited.
func Normalize(img image.Image, maxW, maxH int) *image.RGBA {
	b := img.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxW, maxH)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Fit returns the size of a w x h image shrunk to fit the box.
func Fit(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		scale = min(scale, float64(maxH)/float64(h))
	}
	if scale == 1.0 {
		return w, h
	}
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName turns an item name into a safe base file name.
func FileName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_"), "._")
	if s == "" {
		return "image"
	}
	return s
}

// ItemFileName names the picture of one item. The identity prefix keeps
// items that share a name from overwriting each other's picture.
func ItemFileName(name, id string) string {
	short := FileName(id)
	if len(short) > 8 {
		short = short[:8]
	}
	if strings.TrimSpace(name) == "" {
		return short
	}
	return FileName(name) + "_" + short
}
