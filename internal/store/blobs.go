package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/erazemk/bazaar/internal/tree"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("object not found")

// BlobRef identifies a stored blob.
type BlobRef struct {
	Path        string
	ContentType string
	Size        int
}

// Blob is a stored binary object.
type Blob struct {
	BlobRef
	Data      []byte
	CreatedAt time.Time
}

// Bucket stores binary objects in the blobs table and serves them under
// {publicURL}/media/.
type Bucket struct {
	db        *sql.DB
	publicURL string
}

// NewBucket returns a bucket whose download URLs start with publicURL.
func NewBucket(db *sql.DB, publicURL string) *Bucket {
	return &Bucket{db: db, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Put stores data at path, overwriting any previous blob there.
func (b *Bucket) Put(ctx context.Context, path string, data []byte, contentType string) (BlobRef, error) {
	path, err := tree.Clean(path)
	if err != nil {
		return BlobRef{}, err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO blobs (path, data, content_type) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data,
		     content_type = excluded.content_type, created_at = CURRENT_TIMESTAMP`,
		path, data, contentType,
	)
	if err != nil {
		return BlobRef{}, fmt.Errorf("storing blob %s: %w", path, err)
	}
	return BlobRef{Path: path, ContentType: contentType, Size: len(data)}, nil
}

// DownloadURL resolves ref to a public address.
func (b *Bucket) DownloadURL(ctx context.Context, ref BlobRef) (string, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE path = ?`, ref.Path).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", ref.Path, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref.Path, err)
	}

	segments := strings.Split(ref.Path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.publicURL + "/media/" + strings.Join(segments, "/"), nil
}

// Get returns the blob at path.
func (b *Bucket) Get(ctx context.Context, path string) (*Blob, error) {
	path, err := tree.Clean(path)
	if err != nil {
		return nil, err
	}
	blob := &Blob{}
	err = b.db.QueryRowContext(ctx,
		`SELECT path, data, content_type, created_at FROM blobs WHERE path = ?`, path,
	).Scan(&blob.Path, &blob.Data, &blob.ContentType, &blob.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", path, err)
	}
	blob.Size = len(blob.Data)
	return blob, nil
}
