package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ManifestSuffix is appended to an object key to form its manifest key.
const ManifestSuffix = ".manifest.json"

// ErrInvalidName is returned for empty names or references that would escape
// the store prefix.
var ErrInvalidName = errors.New("artifact: invalid name")

// Artifact is a finished export file. Artifacts with an ID are stored under
// {prefix}/{ID}/{Name}, so equal names from different exports never collide.
type Artifact struct {
	ID       string
	Name     string
	Data     []byte
	MIMEType string
	Metadata map[string]string
}

// Manifest describes a stored artifact.
type Manifest struct {
	Object    string            `json:"object"`
	Size      int64             `json:"size"`
	Checksum  string            `json:"checksum"`
	MIMEType  string            `json:"mime_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix places all objects below prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithClock replaces time.Now for manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store saves artifacts to a bucket. The caller owns the bucket and closes
// it.
type Store struct {
	bucket *blob.Bucket
	prefix string
	now    func() time.Time
}

// NewStore creates a store on bucket.
func NewStore(bucket *blob.Bucket, opts ...Option) *Store {
	s := &Store{bucket: bucket, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ref returns the store-relative reference of the artifact name saved under
// id: "id/name", or just name when id is empty.
func Ref(id, name string) string {
	if id == "" {
		return name
	}
	return id + "/" + name
}

// Key returns the object key for ref.
func (s *Store) Key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return s.prefix + "/" + ref
}

// Save writes a.Data and its manifest. An existing artifact with the same
// ID and name is replaced.
//
// Returns an error if:
//   - The name or ID is empty, or contains a path separator (ErrInvalidName)
//   - The bucket rejects the write (permission denied, network error)
//   - The context is cancelled; no object is committed in that case
func (s *Store) Save(ctx context.Context, a Artifact) (*Manifest, error) {
	if err := checkName(a.Name); err != nil {
		return nil, err
	}
	if a.ID != "" {
		if err := checkName(a.ID); err != nil {
			return nil, err
		}
	}
	key := s.Key(Ref(a.ID, a.Name))

	sum, err := s.write(ctx, key, a.MIMEType, bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("artifact: write %s: %w", key, err)
	}

	m := &Manifest{
		Object:    key,
		Size:      int64(len(a.Data)),
		Checksum:  sum,
		MIMEType:  a.MIMEType,
		Metadata:  a.Metadata,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifact: marshal manifest: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, key+ManifestSuffix, data, &blob.WriterOptions{
		ContentType: "application/json",
	}); err != nil {
		return nil, fmt.Errorf("artifact: write manifest: %w", err)
	}
	return m, nil
}

// write streams r to key and returns the hex SHA256 of what was written.
func (s *Store) write(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, h), r); err != nil {
		// cancelling before Close discards the partial object
		cancel()
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Manifest reads the manifest for ref (see Ref).
//
// The error wraps gcerrors.NotFound when no artifact exists; see IsNotExist.
func (s *Store) Manifest(ctx context.Context, ref string) (*Manifest, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}
	data, err := s.bucket.ReadAll(ctx, s.Key(ref)+ManifestSuffix)
	if err != nil {
		return nil, fmt.Errorf("artifact: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Open returns a reader for the artifact body along with its manifest.
// The caller closes the reader.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, *Manifest, error) {
	m, err := s.Manifest(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.bucket.NewReader(ctx, m.Object, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: open %s: %w", m.Object, err)
	}
	return r, m, nil
}

// ValidationResult contains the results of validating an artifact.
type ValidationResult struct {
	Valid            bool     // true if the object exists and matches the manifest
	Size             int64    // size from manifest
	Missing          bool     // object does not exist
	SizeMismatch     bool     // stored size differs from manifest
	ChecksumMismatch bool     // stored bytes hash differently
	Errors           []string // detailed error messages
}

// Validate checks that the artifact described by ref's manifest exists and
// that its size and checksum match.
//
// Returns an error if:
//   - The manifest doesn't exist (error wraps gcerrors.NotFound)
//   - The manifest JSON is malformed (encoding/json error)
//   - Cannot access the object store (network/permission error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
//
// Note: A missing object or mismatching content is NOT returned as an error.
// Instead, it is reported in the ValidationResult with Valid=false.
func (s *Store) Validate(ctx context.Context, ref string) (*ValidationResult, error) {
	m, err := s.Manifest(ctx, ref)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:  true,
		Size:   m.Size,
		Errors: make([]string, 0),
	}

	attrs, err := s.bucket.Attributes(ctx, m.Object)
	if err != nil {
		if IsNotExist(err) {
			result.Valid = false
			result.Missing = true
			result.Errors = append(result.Errors, fmt.Sprintf("object missing: %s", m.Object))
			return result, nil
		}
		return nil, fmt.Errorf("artifact: check %s: %w", m.Object, err)
	}

	if attrs.Size != m.Size {
		result.Valid = false
		result.SizeMismatch = true
		result.Errors = append(result.Errors,
			fmt.Sprintf("size mismatch: expected %d, got %d", m.Size, attrs.Size))
		return result, nil
	}

	if m.Checksum == "" {
		return result, nil
	}
	sum, err := s.checksum(ctx, m.Object)
	if err != nil {
		return nil, fmt.Errorf("artifact: checksum %s: %w", m.Object, err)
	}
	if sum != m.Checksum {
		result.Valid = false
		result.ChecksumMismatch = true
		result.Errors = append(result.Errors,
			fmt.Sprintf("checksum mismatch: expected %s, got %s", m.Checksum, sum))
	}
	return result, nil
}

func (s *Store) checksum(ctx context.Context, key string) (string, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Delete removes an artifact and its manifest.
//
// Returns an error if:
//   - The manifest doesn't exist (error wraps gcerrors.NotFound)
//   - The object cannot be deleted (permission denied, network error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
func (s *Store) Delete(ctx context.Context, ref string) error {
	m, err := s.Manifest(ctx, ref)
	if err != nil {
		return err
	}

	if err := s.bucket.Delete(ctx, m.Object); err != nil && !IsNotExist(err) {
		return fmt.Errorf("artifact: delete %s: %w", m.Object, err)
	}
	if err := s.bucket.Delete(ctx, s.Key(ref)+ManifestSuffix); err != nil {
		return fmt.Errorf("artifact: delete manifest: %w", err)
	}
	return nil
}

// IsNotExist reports whether err indicates a missing object.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// checkRef accepts "name" or "id/name".
func checkRef(ref string) error {
	id, name, ok := strings.Cut(ref, "/")
	if !ok {
		return checkName(ref)
	}
	if err := checkName(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, ref)
	}
	if err := checkName(name); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidName, ref)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
