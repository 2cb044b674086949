// Package testutil provides an in-memory S3 API for tests.
//
//	client := testutil.NewMemoryS3()
//	bucket := storage.NewBucketWithClient(client, "docs")
package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// memObject holds a stored object's data and metadata.
type memObject struct {
	data        []byte
	contentType string
}

// MemoryS3 implements storage.API backed by a map keyed by bucket/key.
type MemoryS3 struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	deletes []string
}

// NewMemoryS3 creates an empty in-memory S3.
func NewMemoryS3() *MemoryS3 {
	return &MemoryS3{objects: make(map[string]*memObject)}
}

func objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func noSuchKey() error {
	return &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
}

// Put stores data directly.
func (m *MemoryS3) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = &memObject{data: append([]byte(nil), data...)}
}

// Object returns the stored data and whether it exists.
func (m *MemoryS3) Object(bucket, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

// ContentType returns the stored content type of an object.
func (m *MemoryS3) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if obj, ok := m.objects[bucket+"/"+key]; ok {
		return obj.contentType
	}
	return ""
}

// Deletes returns the bucket/key of every DeleteObject call in order.
func (m *MemoryS3) Deletes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deletes...)
}

// PutObject implements storage.API.
func (m *MemoryS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	var data []byte
	if in.Body != nil {
		var err error
		if data, err = io.ReadAll(in.Body); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(in.Bucket, in.Key)] = &memObject{data: data, contentType: aws.ToString(in.ContentType)}
	return &awss3.PutObjectOutput{}, nil
}

// GetObject implements storage.API.
func (m *MemoryS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, noSuchKey()
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

// DeleteObject implements storage.API.
func (m *MemoryS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey(in.Bucket, in.Key)
	m.deletes = append(m.deletes, key)
	delete(m.objects, key)
	return &awss3.DeleteObjectOutput{}, nil
}

// HeadObject implements storage.API.
func (m *MemoryS3) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}
