// Package docs publishes the dbt documentation site as a single
// self-contained index.html in the docs bucket.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/storage"
)

// IndexKey is the object key of the published docs page.
const IndexKey = "index.html"

// referenceCatalog is how the generated index.html fetches its artifacts.
const referenceCatalog = `n=[o("manifest","manifest.json"+t),o("catalog","catalog.json"+t)]`

// Logger receives progress and missing-object messages.
type Logger interface {
	LogInfo(message string)
	LogError(message string)
}

// Publisher embeds manifest and catalog into index.html and stores it.
type Publisher struct {
	bucket storage.BucketFunc
	logger Logger
}

// NewPublisher creates a Publisher writing to the bucket bucket resolves.
func NewPublisher(bucket storage.BucketFunc, logger Logger) *Publisher {
	return &Publisher{bucket: bucket, logger: logger}
}

// Embed replaces the artifact fetch in index with inline manifest and
// catalog JSON.
func Embed(index, manifest, catalog string) string {
	embedded := fmt.Sprintf("n=[\n    {label: 'manifest', data: %s},\n    {label: 'catalog', data: %s}\n    ]", manifest, catalog)
	return strings.Replace(index, referenceCatalog, embedded, -1)
}

// SaveIndexHTML reads target/index.html, manifest.json and catalog.json
// below basePath and uploads the combined page. An empty basePath falls
// back to DBT_PROJECT_DIR.
func (p *Publisher) SaveIndexHTML(ctx context.Context, basePath string) error {
	if basePath == "" {
		basePath = os.Getenv("DBT_PROJECT_DIR")
		if basePath == "" {
			return models.NewPreconditionError("DBT_PROJECT_DIR")
		}
	}

	target := filepath.Join(basePath, "target")
	artifacts := make(map[string]string, 3)
	for _, name := range []string{"index.html", "manifest.json", "catalog.json"} {
		data, err := os.ReadFile(filepath.Join(target, name))
		if err != nil {
			return fmt.Errorf("docs: read %s: %w", name, err)
		}
		artifacts[name] = string(data)
	}

	body := []byte(Embed(artifacts["index.html"], artifacts["manifest.json"], artifacts["catalog.json"]))

	bucket, err := p.bucket(ctx)
	if err != nil {
		return err
	}
	if err := bucket.Upload(ctx, IndexKey, bytes.NewReader(body), "text/html"); err != nil {
		return err
	}
	p.logInfo(fmt.Sprintf("Written %d bytes to %s", len(body), bucket.URI(IndexKey)))
	return nil
}

// LoadIndexHTML returns the stored page at key (IndexKey when empty). A
// missing object is not an error: the returned text says so.
func (p *Publisher) LoadIndexHTML(ctx context.Context, key string) (string, error) {
	if key == "" {
		key = IndexKey
	}

	bucket, err := p.bucket(ctx)
	if err != nil {
		return "", err
	}

	rc, err := bucket.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			message := fmt.Sprintf("Object %s does not exist in s3://%s", key, bucket.Name())
			p.logError(message)
			return message, nil
		}
		return "", err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("docs: read %s: %w", bucket.URI(key), err)
	}
	p.logInfo(fmt.Sprintf("Loaded %d bytes from %s", len(body), bucket.URI(key)))
	return string(body), nil
}

func (p *Publisher) logInfo(msg string) {
	if p.logger != nil {
		p.logger.LogInfo(msg)
	}
}

func (p *Publisher) logError(msg string) {
	if p.logger != nil {
		p.logger.LogError(msg)
	}
}
