package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/South-Winder12138/mineru-service/config"
	"github.com/South-Winder12138/mineru-service/model"
)

// Archiver copies finished results to durable storage. imageRoot is the task's
// output directory; image keys keep their layout relative to it.
type Archiver interface {
	ArchiveResult(ctx context.Context, taskID, imageRoot string, result *model.ExtractionResult) error
	RemoveTask(ctx context.Context, taskID string) error
}

// MinioService archives task results into a MinIO bucket
type MinioService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// UploadFile uploads a reader under objectName
func (s *MinioService) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	return nil
}

// GetPresignedURL generates a presigned URL for the object with expiration
func (s *MinioService) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// ArchiveResult uploads the Markdown and every extracted image under taskID/ and
// records presigned URLs on the result
func (s *MinioService) ArchiveResult(ctx context.Context, taskID, imageRoot string, result *model.ExtractionResult) error {
	mdObject := path.Join(taskID, "result.md")
	md := strings.NewReader(result.MarkdownContent)
	if err := s.UploadFile(ctx, mdObject, md, md.Size(), "text/markdown; charset=utf-8"); err != nil {
		return err
	}
	mdURL, err := s.objectURL(ctx, mdObject)
	if err != nil {
		return err
	}
	result.SetMeta("archive_markdown_url", mdURL)

	var imageURLs []string
	for i, img := range result.Images {
		if img.Type != model.ImageExtracted {
			continue
		}
		object := path.Join(taskID, "images", imageKey(imageRoot, img.Path))
		if err := s.uploadPath(ctx, object, img.Path); err != nil {
			return err
		}
		url, err := s.objectURL(ctx, object)
		if err != nil {
			return err
		}
		result.Images[i].URL = url
		imageURLs = append(imageURLs, url)
	}
	if len(imageURLs) > 0 {
		result.SetMeta("archive_image_urls", imageURLs)
	}
	return nil
}

// imageKey is img's slash-separated path under root, or its base name when it
// lives elsewhere
func imageKey(root, img string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, img); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(img)
}

// objectURL presigns unless expire_days is negative, in which case the bucket is
// assumed to be publicly readable
func (s *MinioService) objectURL(ctx context.Context, objectName string) (string, error) {
	if s.config.ExpireDays < 0 {
		return s.GetPublicURL(objectName), nil
	}
	return s.GetPresignedURL(ctx, objectName)
}

func (s *MinioService) uploadPath(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.UploadFile(ctx, objectName, f, info.Size(), contentType)
}

// RemoveTask deletes every archived object of a task
func (s *MinioService) RemoveTask(ctx context.Context, taskID string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    taskID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("failed to list archived objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
	}
	return nil
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *MinioService) GetPublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}
