// Package archive persists intermediate JSON documents such as raw exports
// and analysis summaries.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// Archive stores JSON documents by name
type Archive interface {
	// Save writes v under name and returns its location.
	Save(ctx context.Context, name string, v interface{}) (string, error)
	Load(ctx context.Context, name string, v interface{}) error
}

// Config selects and configures an archive backend
type Config struct {
	Type      string `mapstructure:"type"` // dir or s3
	Dir       string `mapstructure:"dir"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// New builds the archive described by cfg.
func New(logger *zap.Logger, cfg Config) (Archive, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "dir":
		return NewDirArchive(logger, cfg.Dir)
	case "s3", "minio":
		return NewS3Archive(logger, cfg)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "..") || path.IsAbs(name) {
		return model.NewError(model.KindInvalidInput, "archive", "invalid archive name %q", name)
	}
	return nil
}

// DirArchive keeps documents as indented JSON files under a directory
type DirArchive struct {
	logger *zap.Logger
	dir    string
}

func NewDirArchive(logger *zap.Logger, dir string) (*DirArchive, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &DirArchive{
		logger: logger.Named("archive"),
		dir:    dir,
	}, nil
}

func (a *DirArchive) Save(ctx context.Context, name string, v interface{}) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	p := filepath.Join(a.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	a.logger.Debug("Archived document", zap.String("path", p), zap.Int("bytes", len(data)))
	return p, nil
}

func (a *DirArchive) Load(ctx context.Context, name string, v interface{}) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewError(model.KindNotFound, "archive", "%s not found", name)
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// S3Archive keeps documents in an S3 compatible bucket
type S3Archive struct {
	logger *zap.Logger
	client *minio.Client
	bucket string
	prefix string

	bucketOnce sync.Once
	bucketErr  error
}

func NewS3Archive(logger *zap.Logger, cfg Config) (*S3Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &S3Archive{
		logger: logger.Named("archive"),
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (a *S3Archive) key(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

func (a *S3Archive) ensureBucket(ctx context.Context) error {
	a.bucketOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.bucketErr = fmt.Errorf("failed to check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			a.bucketErr = fmt.Errorf("failed to create bucket: %w", err)
			return
		}
		a.logger.Info("Created archive bucket", zap.String("bucket", a.bucket))
	})
	return a.bucketErr
}

func (a *S3Archive) Save(ctx context.Context, name string, v interface{}) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	key := a.key(name)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	a.logger.Debug("Archived document", zap.String("bucket", a.bucket), zap.String("key", key))
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archive) Load(ctx context.Context, name string, v interface{}) error {
	if err := validName(name); err != nil {
		return err
	}
	obj, err := a.client.GetObject(ctx, a.bucket, a.key(name), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3 get object: %w", err)
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(v); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return model.NewError(model.KindNotFound, "archive", "%s not found", name)
		}
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}
