package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/filelock"
	"github.com/tatenmitdaten/dbt-lambda/internal/mpcontext"
)

// ignoredFiles are top-level repository files never copied.
var ignoredFiles = map[string]bool{
	".gitignore":       true,
	"Makefile":         true,
	"make-venv.bat":    true,
	".DS_Store":        true,
	"README.md":        true,
	"docs.py":          true,
	"requirements.txt": true,
}

// CodeCommitAPI is the subset of the CodeCommit client used to copy a folder tree.
type CodeCommitAPI interface {
	GetFolder(ctx context.Context, in *codecommit.GetFolderInput, optFns ...func(*codecommit.Options)) (*codecommit.GetFolderOutput, error)
	GetFile(ctx context.Context, in *codecommit.GetFileInput, optFns ...func(*codecommit.Options)) (*codecommit.GetFileOutput, error)
}

// CodeCommitFactory builds a client, assuming roleARN when it is set.
type CodeCommitFactory func(ctx context.Context, roleARN string) (CodeCommitAPI, error)

// NewCodeCommitFactory returns a factory using opts for the base credentials.
func NewCodeCommitFactory(opts awsenv.Options) CodeCommitFactory {
	return func(ctx context.Context, roleARN string) (CodeCommitAPI, error) {
		cfg, err := awsenv.Load(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("codecommit: %w", err)
		}
		if roleARN != "" {
			provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = "AssumeRoleSession"
			})
			cfg.Credentials = aws.NewCredentialsCache(provider)
		}
		return codecommit.NewFromConfig(cfg), nil
	}
}

// codeCommitCopier copies a repository tree at a ref into a directory.
type codeCommitCopier struct {
	client     CodeCommitAPI
	repository string
	ref        string
	workers    int
	logger     Logger
}

func (c *codeCommitCopier) commitSpecifier() *string {
	if c.ref == "" {
		return nil
	}
	return aws.String(c.ref)
}

// listFiles walks the folder tree depth-first and returns every file path
// except the ignored top-level files.
func (c *codeCommitCopier) listFiles(ctx context.Context, folder string) ([]string, error) {
	out, err := c.client.GetFolder(ctx, &codecommit.GetFolderInput{
		RepositoryName:  aws.String(c.repository),
		FolderPath:      aws.String(folder),
		CommitSpecifier: c.commitSpecifier(),
	})
	if err != nil {
		return nil, fmt.Errorf("codecommit: get folder %q: %w", folder, err)
	}

	var files []string
	for _, f := range out.Files {
		p := aws.ToString(f.AbsolutePath)
		if !ignoredFiles[p] {
			files = append(files, p)
		}
	}
	for _, sub := range out.SubFolders {
		nested, err := c.listFiles(ctx, aws.ToString(sub.AbsolutePath))
		if err != nil {
			return nil, err
		}
		files = append(files, nested...)
	}
	return files, nil
}

// copyTo downloads every file into basePath on a bounded worker pool.
func (c *codeCommitCopier) copyTo(ctx context.Context, basePath string) error {
	files, err := c.listFiles(ctx, "/")
	if err != nil {
		return err
	}

	pool := mpcontext.NewThreadPool(c.workers, nil, c.repository)
	var mu sync.Mutex
	var firstErr error
	record := func(result any) {
		if err, ok := result.(error); ok && err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}

	for _, file := range files {
		if err := pool.ApplyAsync(c.downloadTask(ctx, basePath), []any{file}, record); err != nil {
			record(err)
			break
		}
	}
	pool.Close()
	pool.Join()
	return firstErr
}

func (c *codeCommitCopier) downloadTask(ctx context.Context, basePath string) mpcontext.TaskFunc {
	return func(args ...any) any {
		filePath := args[0].(string)
		out, err := c.client.GetFile(ctx, &codecommit.GetFileInput{
			RepositoryName:  aws.String(c.repository),
			FilePath:        aws.String(filePath),
			CommitSpecifier: c.commitSpecifier(),
		})
		if err != nil {
			return fmt.Errorf("codecommit: get file %q: %w", filePath, err)
		}
		if c.logger != nil {
			c.logger.LogInfo("> " + filePath)
		}

		target := filepath.Join(basePath, filepath.FromSlash(filePath))
		return filelock.WriteFile(target, out.FileContent, 0o644)
	}
}
