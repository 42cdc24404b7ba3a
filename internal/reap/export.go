package reap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// RemoteStore wraps an S3-compatible bucket for snapshot export.
// Works against Cloudflare R2, MinIO or plain S3.
type RemoteStore struct {
	Client     *s3.Client
	BucketName string
}

// NewRemoteStore initializes the remote client from configuration
// values.
func NewRemoteStore(cfg *Config) (*RemoteStore, error) {
	endpoint := cfg.Values["REMOTE_ENDPOINT"]
	accessKey := cfg.Values["REMOTE_ACCESS_KEY_ID"]
	secretKey := cfg.Values["REMOTE_SECRET_ACCESS_KEY"]
	bucketName := cfg.Values["REMOTE_BUCKET_NAME"]
	region := cfg.Values["REMOTE_REGION"]
	if region == "" {
		region = "auto"
	}

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("remote credentials missing in configuration (REMOTE_ENDPOINT, REMOTE_ACCESS_KEY_ID, REMOTE_SECRET_ACCESS_KEY, REMOTE_BUCKET_NAME)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(region),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &RemoteStore{Client: client, BucketName: bucketName}, nil
}

// UploadFile uploads a byte payload under key.
func (r *RemoteStore) UploadFile(ctx context.Context, key string, body []byte) error {
	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	} else if strings.HasSuffix(key, ".zst") {
		contentType = "application/zstd"
	}
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return err
}

// UploadLocalFile streams a file from disk under key.
func (r *RemoteStore) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/zstd"),
	})
	return err
}

// DownloadFile fetches a remote object.
func (r *RemoteStore) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	output, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()
	return io.ReadAll(output.Body)
}

// ExportSnapshot pushes a snapshot archive and its index entry to the
// remote bucket so another machine can import the same package state.
func ExportSnapshot(ctx context.Context, cfg *Config, store *Store, id string) error {
	remote, err := NewRemoteStore(cfg)
	if err != nil {
		return err
	}
	meta, err := store.GetSnapshot(id)
	if err != nil {
		return err
	}

	key := "snapshots/" + filepath.Base(meta.ArchivePath)
	colArrow.Print("-> ")
	colSuccess.Printf("Uploading snapshot %s\n", id)
	if err := remote.UploadLocalFile(ctx, key, meta.ArchivePath); err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", id, err)
	}

	entry := fmt.Sprintf(`{"id":%q,"created_at":%q,"reason":%q,"archive":%q}`,
		meta.ID, meta.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), meta.Reason, key)
	if err := remote.UploadFile(ctx, "snapshots/"+id+".json", []byte(entry)); err != nil {
		return fmt.Errorf("failed to upload snapshot index entry: %w", err)
	}
	colSuccess.Printf("Snapshot %s exported\n", id)
	return nil
}

// ImportSnapshot pulls a previously exported snapshot archive into the
// local snapshot directory and indexes it.
func ImportSnapshot(ctx context.Context, cfg *Config, store *Store, mgr *SnapshotManager, id string) error {
	remote, err := NewRemoteStore(cfg)
	if err != nil {
		return err
	}
	data, err := remote.DownloadFile(ctx, "snapshots/"+id+".tar.zst")
	if err != nil {
		return fmt.Errorf("failed to download snapshot %s: %w", id, err)
	}
	if err := os.MkdirAll(SnapshotDir, 0755); err != nil {
		return err
	}
	archivePath := filepath.Join(SnapshotDir, id+".tar.zst")
	if err := os.WriteFile(archivePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot archive: %w", err)
	}

	state, err := mgr.loadFromArchive(archivePath)
	if err != nil {
		os.Remove(archivePath)
		return err
	}
	meta := &SnapshotMeta{
		ID:          state.ID,
		CreatedAt:   state.CreatedAt,
		Reason:      state.Reason,
		ArchivePath: archivePath,
	}
	if err := store.InsertSnapshot(meta, state.Packages); err != nil {
		os.Remove(archivePath)
		return err
	}
	colSuccess.Printf("Snapshot %s imported (%d packages)\n", state.ID, len(state.Packages))
	return nil
}
