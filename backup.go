package shelfsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
)

// SnapshotConfig configures off-device snapshot backups.
type SnapshotConfig struct {
	// Enabled turns snapshotting on
	Enabled bool `yaml:"enabled"`

	// Bucket is the object store bucket
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to snapshot keys
	Prefix string `yaml:"prefix"`

	// Region for the object store
	Region string `yaml:"region"`

	// Endpoint overrides the object store endpoint (MinIO etc.)
	Endpoint string `yaml:"endpoint"`

	// AccessKeyID and SecretAccessKey override ambient credentials
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// UsePathStyle forces path-style addressing
	UsePathStyle bool `yaml:"use_path_style"`

	// Retry controls transient-failure retries around object store calls
	Retry RetryConfig `yaml:"retry"`
}

// DefaultSnapshotConfig returns default snapshot configuration.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Prefix: "snapshots",
		Region: "us-east-1",
		Retry:  DefaultRetryConfig(),
	}
}

// ObjectStore is the minimal blob interface snapshots need.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// S3ObjectStore backs snapshots with S3-compatible storage.
type S3ObjectStore struct {
	client  *s3.Client
	bucket  string
	retryer *Retryer
}

// NewS3ObjectStore creates an object store for the configured bucket.
func NewS3ObjectStore(ctx context.Context, config SnapshotConfig) (*S3ObjectStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("snapshot bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.UsePathStyle
	})

	return &S3ObjectStore{
		client:  client,
		bucket:  config.Bucket,
		retryer: NewRetryer(config.Retry),
	}, nil
}

// PutObject implements ObjectStore.
func (s *S3ObjectStore) PutObject(ctx context.Context, key string, data []byte) error {
	return s.retryer.Do(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

// GetObject implements ObjectStore.
func (s *S3ObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.retryer.Do(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListKeys implements ObjectStore.
func (s *S3ObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.retryer.Do(ctx, func() error {
		keys = keys[:0]
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// snapshotManifest is the serialized snapshot body.
type snapshotManifest struct {
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	Cursor      string          `json:"cursor"`
	Objects     []CatalogObject `json:"objects"`
	TeamData    []*TeamData     `json:"team_data"`
	ObjectCount int             `json:"object_count"`
}

const snapshotManifestVersion = 1

// SnapshotManager writes compressed snapshots of the local store to an
// object store and restores from them. Snapshots are a recovery path for a
// fresh or corrupted device, not part of the regular sync loop.
type SnapshotManager struct {
	config  SnapshotConfig
	store   *LocalStore
	objects ObjectStore
	logger  *slog.Logger
}

// NewSnapshotManager creates a snapshot manager.
func NewSnapshotManager(config SnapshotConfig, store *LocalStore, objects ObjectStore, logger *slog.Logger) *SnapshotManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotManager{
		config:  config,
		store:   store,
		objects: objects,
		logger:  logger,
	}
}

// Snapshot serializes the catalog, annotations and sync cursor and uploads
// the snappy-compressed result. Returns the object key.
func (m *SnapshotManager) Snapshot(ctx context.Context) (string, error) {
	objects, err := m.store.ListCatalogObjects(ctx)
	if err != nil {
		return "", err
	}
	teamData, err := m.store.ListTeamData(ctx)
	if err != nil {
		return "", err
	}
	cursor, err := m.store.LastSyncCursor(ctx)
	if err != nil {
		return "", err
	}

	manifest := snapshotManifest{
		Version:     snapshotManifestVersion,
		CreatedAt:   time.Now().UTC(),
		Cursor:      cursor,
		Objects:     objects,
		TeamData:    teamData,
		ObjectCount: len(objects),
	}

	raw, err := json.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, raw)

	key := path.Join(m.config.Prefix, manifest.CreatedAt.Format("20060102T150405Z")+".snap")
	if err := m.objects.PutObject(ctx, key, compressed); err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	m.logger.Info("snapshot uploaded",
		"key", key,
		"objects", len(objects),
		"team_records", len(teamData),
		"bytes", len(compressed))
	return key, nil
}

// Restore loads a snapshot into the local store, replacing catalog objects
// and annotations by id and restoring the sync cursor.
func (m *SnapshotManager) Restore(ctx context.Context, key string) error {
	compressed, err := m.objects.GetObject(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to download snapshot: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var manifest snapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if manifest.Version != snapshotManifestVersion {
		return fmt.Errorf("unsupported snapshot version %d", manifest.Version)
	}

	if err := m.store.UpsertCatalogObjects(ctx, manifest.Objects); err != nil {
		return err
	}
	for _, td := range manifest.TeamData {
		if err := m.store.UpsertTeamData(ctx, td); err != nil {
			return err
		}
	}
	if err := m.store.SaveLastSyncCursor(ctx, manifest.Cursor); err != nil {
		return err
	}

	m.logger.Info("snapshot restored",
		"key", key,
		"objects", len(manifest.Objects),
		"team_records", len(manifest.TeamData))
	return nil
}

// Latest returns the most recent snapshot key, or empty when none exists.
func (m *SnapshotManager) Latest(ctx context.Context) (string, error) {
	keys, err := m.objects.ListKeys(ctx, m.config.Prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}

	// Keys embed a sortable timestamp.
	latest := keys[0]
	for _, k := range keys[1:] {
		if k > latest {
			latest = k
		}
	}
	return latest, nil
}
