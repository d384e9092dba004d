package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

var _ interfaces.ModelStore = (*S3Storage)(nil)

const modelsDir = "models"

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	UseCompression  bool          `json:"use_compression" mapstructure:"use_compression"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Storage stores model snapshots as JSON objects in a bucket
type S3Storage struct {
	config   *S3Config
	s3Client s3iface.S3API
	logger   *logrus.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewS3Storage creates a new S3 storage instance. Connect must be called
// before use.
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageError, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeStorageError, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &S3Storage{config: config, logger: logger}, nil
}

// NewS3StorageWithClient creates a store on an existing client.
func NewS3StorageWithClient(config *S3Config, client s3iface.S3API, logger *logrus.Logger) (*S3Storage, error) {
	s, err := NewS3Storage(config, logger)
	if err != nil {
		return nil, err
	}
	s.s3Client = client
	return s, nil
}

// Connect creates the AWS session and checks that the bucket is reachable.
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client == nil {
		awsConfig := &aws.Config{
			Region:     aws.String(s.config.Region),
			MaxRetries: aws.Int(s.config.MaxRetries),
		}
		if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
			awsConfig.Credentials = credentials.NewStaticCredentials(
				s.config.AccessKeyID,
				s.config.SecretAccessKey,
				s.config.SessionToken,
			)
		}
		// S3-compatible services
		if s.config.Endpoint != "" {
			awsConfig.Endpoint = aws.String(s.config.Endpoint)
			awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
		}
		if s.config.DisableSSL {
			awsConfig.DisableSSL = aws.Bool(true)
		}

		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to create AWS session")
		}
		s.s3Client = s3.New(sess)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")
	return nil
}

// Close releases the client
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.s3Client = nil
	s.closed = true
	s.logger.Info("S3 connection closed")
	return nil
}

// Save uploads the snapshot, replacing any previous version.
func (s *S3Storage) Save(ctx context.Context, snapshot *models.ModelSnapshot) error {
	if snapshot == nil {
		return errors.NewValidationError(errors.CodeMissingField, "snapshot is nil")
	}
	if err := models.ValidateModelID(snapshot.ID); err != nil {
		return errors.WrapError(errors.ErrInvalidParameters, errors.ErrorTypeValidation, errors.CodeInvalidInput, err.Error())
	}

	client, err := s.client()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to serialize snapshot")
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(snapshot.ID)),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"model-id":   aws.String(snapshot.ID),
			"mode":       aws.String(snapshot.Mode),
			"created-at": aws.String(snapshot.CreatedAt.Format(time.RFC3339)),
		},
	}
	if s.config.UseCompression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to compress data")
		}
		if err := gz.Close(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to compress data")
		}
		data = buf.Bytes()
		input.ContentEncoding = aws.String("gzip")
	}
	input.Body = bytes.NewReader(data)
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := client.PutObjectWithContext(ctx, input); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to upload to S3")
	}

	s.logger.WithFields(logrus.Fields{
		"model_id": snapshot.ID,
		"bytes":    len(data),
	}).Debug("Model snapshot uploaded")
	return nil
}

// Load downloads the snapshot with the given ID.
func (s *S3Storage) Load(ctx context.Context, id string) (*models.ModelSnapshot, error) {
	if err := models.ValidateModelID(id); err != nil {
		return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
				fmt.Sprintf("model %s not found", id))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to download from S3")
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if aws.StringValue(out.ContentEncoding) == "gzip" {
		gz, err := gzip.NewReader(out.Body)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decompress data")
		}
		defer gz.Close()
		body = gz
	}

	var snapshot models.ModelSnapshot
	if err := json.NewDecoder(body).Decode(&snapshot); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decode snapshot")
	}
	return &snapshot, nil
}

// List returns the IDs of all stored snapshots.
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	prefix := s.generateKey("")
	var ids []string
	err = client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if id := s.extractIDFromKey(aws.StringValue(obj.Key)); id != "" {
				ids = append(ids, id)
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list S3 objects")
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the snapshot with the given ID.
func (s *S3Storage) Delete(ctx context.Context, id string) error {
	if err := models.ValidateModelID(id); err != nil {
		return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound, err.Error())
	}
	client, err := s.client()
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	key := aws.String(s.generateKey(id))
	if _, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    key,
	}); err != nil {
		if isNotFound(err) {
			return errors.WrapError(errors.ErrModelNotFound, errors.ErrorTypeStorage, errors.CodeModelNotFound,
				fmt.Sprintf("model %s not found", id))
		}
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to stat S3 object")
	}
	if _, err := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    key,
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete S3 object")
	}
	return nil
}

func (s *S3Storage) client() (s3iface.S3API, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError(errors.CodeStorageError, "S3 not connected")
	}
	return s.s3Client, nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// generateKey maps a model ID to its object key. An empty ID yields the
// listing prefix.
func (s *S3Storage) generateKey(id string) string {
	dir := path.Join(s.config.Prefix, modelsDir) + "/"
	if id == "" {
		return dir
	}
	return dir + id + ".json"
}

func (s *S3Storage) extractIDFromKey(key string) string {
	prefix := s.generateKey("")
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".json") {
		return ""
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
