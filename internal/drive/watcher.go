package drive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when a Drive path does not resolve.
var ErrNotFound = errors.New("not found")

const defaultDownloadConcurrency = 4

// DownloadOptions controls how files are pulled from Google Drive.
type DownloadOptions struct {
	FolderID    string
	DownloadDir string
	Concurrency int
}

// Downloader pulls history exports from a Drive folder to local disk.
type Downloader struct {
	client Client
}

func NewDownloader(c Client) *Downloader {
	return &Downloader{client: c}
}

// CSVFiles filters a listing down to .csv files.
func CSVFiles(files []*File) []*File {
	var out []*File
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			out = append(out, f)
		}
	}
	return out
}

// DownloadFolderCSV downloads all CSV files in the folder into DownloadDir and
// returns the local paths sorted by name.
func (d *Downloader) DownloadFolderCSV(ctx context.Context, opts DownloadOptions) ([]string, error) {
	if opts.DownloadDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultDownloadConcurrency
	}

	files, err := d.client.ListFiles(ctx, opts.FolderID)
	if err != nil {
		return nil, err
	}
	files = CSVFiles(files)

	var (
		mu         sync.Mutex
		localPaths []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			localPath := filepath.Join(opts.DownloadDir, filepath.Base(f.Name))
			if err := d.download(gctx, f, localPath); err != nil {
				return err
			}

			mu.Lock()
			localPaths = append(localPaths, localPath)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(localPaths)
	log.Info().Str("folder_id", opts.FolderID).Int("files", len(localPaths)).Msg("Downloaded Drive folder")
	return localPaths, nil
}

func (d *Downloader) download(ctx context.Context, f *File, localPath string) error {
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}

	if err := d.client.DownloadFile(ctx, f.ID, out); err != nil {
		out.Close()
		_ = os.Remove(localPath)
		return fmt.Errorf("failed to download %s: %w", f.Name, err)
	}
	return out.Close()
}
