// Package project materializes the dbt project on local disk from GitHub,
// CodeCommit or the packaged copy in the docs bucket.
package project

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tatenmitdaten/dbt-lambda/internal/filelock"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
	"github.com/tatenmitdaten/dbt-lambda/internal/storage"
)

// ArchiveKey is the object key of the packaged project.
const ArchiveKey = "dbt-project.zip"

// Environment variables read by this package.
const (
	RepositoryEnv     = "DBT_REPOSITORY_NAME"
	BranchEnv         = "DBT_REPOSITORY_BRANCH"
	GitHubTokenEnv    = "GITHUB_ACCESS_TOKEN"
	CodeCommitRoleEnv = "CODECOMMIT_ROLE_ARN"
)

// DefaultBranch is used when DBT_REPOSITORY_BRANCH is unset.
const DefaultBranch = "master"

// DefaultWorkers bounds concurrent CodeCommit downloads.
const DefaultWorkers = 9

// Logger receives progress messages.
type Logger interface {
	LogInfo(message string)
	LogError(message string)
}

// TokenSetter exports the GitHub access token, if one is configured.
type TokenSetter interface {
	SetGitHubToken(ctx context.Context) error
}

// Fetcher copies the project into a base path.
type Fetcher struct {
	Secrets    TokenSetter
	Bucket     storage.BucketFunc
	GitHub     *GitHub
	CodeCommit CodeCommitFactory
	Workers    int
	Logger     Logger
}

// RepoOptions select what CopyFromRepo fetches. Empty fields fall back to
// the environment.
type RepoOptions struct {
	Repository string
	Ref        string
	// SkipUpload leaves the packaged copy in the bucket untouched.
	SkipUpload bool
}

// Materialize prepares basePath according to source: "repo" fetches from
// the repository, "s3" from the packaged copy, anything else keeps what
// is already there. Fetches hold the base path's lock.
func (f *Fetcher) Materialize(ctx context.Context, source, basePath string) error {
	switch source {
	case models.SourceRepo, models.SourceS3:
	default:
		f.logInfo(fmt.Sprintf("No source parameter provided. Using the existing project at %s", basePath))
		return nil
	}

	lock := filelock.ForDir(basePath)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	if source == models.SourceS3 {
		return f.CopyFromS3(ctx, basePath)
	}
	_, err := f.CopyFromRepo(ctx, basePath, RepoOptions{})
	return err
}

// CopyFromRepo replaces basePath with the repository contents at the
// configured ref. GitHub is used when an access token is available,
// CodeCommit otherwise. The result is then packaged into the bucket.
func (f *Fetcher) CopyFromRepo(ctx context.Context, basePath string, opts RepoOptions) (string, error) {
	if f.Secrets != nil {
		if err := f.Secrets.SetGitHubToken(ctx); err != nil {
			return "", err
		}
	}

	ref := opts.Ref
	if ref == "" {
		ref = os.Getenv(BranchEnv)
	}
	if ref == "" {
		ref = DefaultBranch
	}
	repository := opts.Repository
	if repository == "" {
		repository = os.Getenv(RepositoryEnv)
	}
	if repository == "" {
		return "", models.NewPreconditionError(RepositoryEnv)
	}

	if err := os.RemoveAll(basePath); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", basePath, err)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", basePath, err)
	}

	if token := os.Getenv(GitHubTokenEnv); token != "" {
		if err := f.copyFromGitHub(ctx, basePath, repository, ref, token); err != nil {
			return "", err
		}
	} else {
		if err := f.copyFromCodeCommit(ctx, basePath, repository, ref); err != nil {
			return "", err
		}
	}

	if !opts.SkipUpload {
		if err := f.CopyToS3(ctx, basePath); err != nil {
			return "", err
		}
	}

	message := fmt.Sprintf("Copied project from %q at %s", repository, ref)
	f.logInfo(message)
	return message, nil
}

func (f *Fetcher) copyFromGitHub(ctx context.Context, basePath, repository, ref, token string) error {
	gh := f.GitHub
	if gh == nil {
		gh = NewGitHub()
	}
	data, err := gh.Zipball(ctx, repository, ref, token)
	if err != nil {
		f.logError(err.Error())
		return err
	}
	if _, err := extractZip(data, basePath); err != nil {
		return err
	}
	f.logInfo(fmt.Sprintf("Successfully extracted repository contents to %s", basePath))
	return nil
}

func (f *Fetcher) copyFromCodeCommit(ctx context.Context, basePath, repository, ref string) error {
	if f.CodeCommit == nil {
		return fmt.Errorf("codecommit: no client configured")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "models"), 0o755); err != nil {
		return err
	}

	client, err := f.CodeCommit(ctx, os.Getenv(CodeCommitRoleEnv))
	if err != nil {
		return err
	}
	workers := f.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	copier := &codeCommitCopier{
		client:     client,
		repository: repository,
		ref:        ref,
		workers:    workers,
		logger:     f.Logger,
	}
	return copier.copyTo(ctx, basePath)
}

// CopyToS3 replaces the packaged project in the bucket with a zip of basePath.
func (f *Fetcher) CopyToS3(ctx context.Context, basePath string) error {
	bucket, err := f.bucket(ctx)
	if err != nil {
		return err
	}
	if err := bucket.Delete(ctx, ArchiveKey); err != nil {
		return err
	}

	data, err := zipDir(basePath)
	if err != nil {
		return err
	}
	if err := bucket.Upload(ctx, ArchiveKey, bytes.NewReader(data), "application/zip"); err != nil {
		return err
	}
	f.logInfo(fmt.Sprintf("Zipped and uploaded %s to %s", basePath, bucket.URI(ArchiveKey)))
	return nil
}

// CopyFromS3 extracts the packaged project into basePath.
func (f *Fetcher) CopyFromS3(ctx context.Context, basePath string) error {
	bucket, err := f.bucket(ctx)
	if err != nil {
		return err
	}

	rc, err := bucket.Download(ctx, ArchiveKey)
	if err != nil {
		f.logError(fmt.Sprintf("Failed to download %s from S3: %v", ArchiveKey, err))
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", bucket.URI(ArchiveKey), err)
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", basePath, err)
	}
	if _, err := extractZip(data, basePath); err != nil {
		return err
	}
	f.logInfo(fmt.Sprintf("Downloaded and extracted %s to %s", ArchiveKey, basePath))
	return nil
}

func (f *Fetcher) bucket(ctx context.Context) (*storage.Bucket, error) {
	if f.Bucket == nil {
		return nil, models.NewPreconditionError(storage.BucketEnv)
	}
	return f.Bucket(ctx)
}

func (f *Fetcher) logInfo(msg string) {
	if f.Logger != nil {
		f.Logger.LogInfo(msg)
	}
}

func (f *Fetcher) logError(msg string) {
	if f.Logger != nil {
		f.Logger.LogError(msg)
	}
}
