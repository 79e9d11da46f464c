package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/demandcast/internal/forecast"
	"github.com/andresuchdata/demandcast/internal/storage"
)

func objectStorageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-endpoint", EnvVars: []string{"STORAGE_ENDPOINT"}, Value: "localhost:9000"},
		&cli.StringFlag{Name: "storage-access-key", EnvVars: []string{"STORAGE_ACCESS_KEY"}},
		&cli.StringFlag{Name: "storage-secret-key", EnvVars: []string{"STORAGE_SECRET_KEY"}},
		&cli.StringFlag{Name: "storage-region", EnvVars: []string{"STORAGE_REGION"}, Value: "us-east-1"},
		&cli.BoolFlag{Name: "storage-use-ssl", EnvVars: []string{"STORAGE_USE_SSL"}},
	}
}

func newObjectStorage(c *cli.Context) (storage.ObjectStorage, error) {
	return storage.NewMinioClient(storage.MinioConfig{
		Endpoint:  c.String("storage-endpoint"),
		AccessKey: c.String("storage-access-key"),
		SecretKey: c.String("storage-secret-key"),
		Region:    c.String("storage-region"),
		UseSSL:    c.Bool("storage-use-ssl"),
	})
}

// downloadObjects copies every CSV under an s3://bucket/prefix URI into destDir.
func downloadObjects(ctx context.Context, client storage.ObjectStorage, uri, destDir string) ([]string, error) {
	bucket, prefix, ok, err := storage.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("object prefix %q must look like s3://bucket/prefix", uri)
	}

	objects, err := client.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects for %s: %w", uri, err)
	}

	var localPaths []string
	for _, obj := range objects {
		if !strings.HasSuffix(strings.ToLower(obj.Key), ".csv") {
			continue
		}

		localPath := filepath.Join(destDir, objectRelativePath(prefix, obj.Key))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare directory for %s: %w", localPath, err)
		}
		if err := downloadObject(ctx, client, bucket, obj.Key, localPath); err != nil {
			return nil, err
		}
		localPaths = append(localPaths, localPath)
	}

	if len(localPaths) == 0 {
		return nil, fmt.Errorf("no CSV files found under %s", uri)
	}

	sort.Strings(localPaths)
	return localPaths, nil
}

func downloadObject(ctx context.Context, client storage.ObjectStorage, bucket, key, localPath string) error {
	rc, err := client.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer rc.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return out.Close()
}

func objectRelativePath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	prefixTrimmed := strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	rel := strings.TrimPrefix(key, prefixTrimmed+"/")
	if rel == "" || rel == key {
		return filepath.Base(key)
	}
	return rel
}

// runPublishModel validates an artifact locally before uploading it.
func runPublishModel(c *cli.Context) error {
	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	artifact, err := forecast.DecodeArtifact(bytes.NewReader(data))
	if err != nil {
		return err
	}

	bucket, key, ok, err := storage.ParseURI(c.String("to"))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("--to must look like s3://bucket/key")
	}

	client, err := newObjectStorage(c)
	if err != nil {
		return err
	}
	if err := client.UploadObject(c.Context, bucket, key, data, "application/json"); err != nil {
		return err
	}

	log.Info().Str("version", artifact.Version).Str("to", c.String("to")).Msg("Published model artifact")
	return nil
}
