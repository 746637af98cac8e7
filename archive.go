package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
)

type ArchiveConfig struct {
	Dir             string
	CredentialsFile string
	Bucket          string
	Prefix          string // object prefix inside the bucket
	Loc             *time.Location
	Log             *Logger
}

// Archiver keeps a JSON copy of every snapshot on disk and, when a bucket is
// configured, in Firebase storage.
type Archiver struct {
	dir    string
	prefix string
	loc    *time.Location
	log    *Logger

	app    *firebase.App
	bucket *storage.BucketHandle
}

// SnapshotFile is the archived form of one crawl.
type SnapshotFile struct {
	CollectedAt   string           `json:"collected_at"`
	TotalProducts int              `json:"total_products"`
	Products      []ScrapedProduct `json:"products"`
}

// ExportFile is the analytics export written by `wbest export`.
type ExportFile struct {
	ExportedAt      string          `json:"exported_at"`
	CurrentRankings []LatestRanking `json:"current_rankings"`
	BrandStatistics []BrandAverage  `json:"brand_statistics"`
	DatabaseStats   DatabaseStats   `json:"database_stats"`
}

func NewArchiver(ctx context.Context, cfg ArchiveConfig) (*Archiver, error) {
	if cfg.Log == nil {
		cfg.Log = NewNopLogger()
	}
	if cfg.Loc == nil {
		cfg.Loc = LoadSeoul()
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	a := &Archiver{
		dir:    cfg.Dir,
		prefix: strings.Trim(cfg.Prefix, "/"),
		loc:    cfg.Loc,
		log:    cfg.Log,
	}

	if cfg.Bucket == "" {
		return a, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: cfg.Bucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase storage client: %w", err)
	}
	bucket, err := client.DefaultBucket()
	if err != nil {
		return nil, fmt.Errorf("error opening bucket %s: %w", cfg.Bucket, err)
	}
	a.app = app
	a.bucket = bucket
	cfg.Log.Infof("archive uploads enabled bucket=%s prefix=%q", cfg.Bucket, a.prefix)
	return a, nil
}

func (a *Archiver) Remote() bool { return a != nil && a.bucket != nil }

// SnapshotName is wconcept_data_YYYYMMDD_HHMMSS.json in Seoul time.
func (a *Archiver) SnapshotName(collectedAt time.Time) string {
	return "wconcept_data_" + archiveStamp(collectedAt, a.loc) + ".json"
}

func (a *Archiver) StoreSnapshot(ctx context.Context, collectedAt time.Time, products []ScrapedProduct) (string, error) {
	body := SnapshotFile{
		CollectedAt:   collectedAt.In(a.loc).Format(time.RFC3339),
		TotalProducts: len(products),
		Products:      products,
	}
	return a.Store(ctx, a.SnapshotName(collectedAt), body)
}

func (a *Archiver) StoreExport(ctx context.Context, name string, export ExportFile) (string, error) {
	if name == "" {
		name = "wconcept_export_" + archiveStamp(time.Now(), a.loc) + ".json"
	}
	return a.Store(ctx, name, export)
}

// Store writes v as indented JSON to the archive dir and uploads it when a
// bucket is configured. The local path is returned even if the upload fails.
func (a *Archiver) Store(ctx context.Context, name string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	local := name
	if !filepath.IsAbs(name) {
		local = filepath.Join(a.dir, name)
	}
	if err := writeFileAtomic(local, b); err != nil {
		return "", err
	}
	a.log.Infof("archive written %s (%d bytes)", local, len(b))

	if a.bucket == nil {
		return local, nil
	}
	if err := a.upload(ctx, filepath.Base(name), b); err != nil {
		return local, err
	}
	return local, nil
}

func (a *Archiver) objectName(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *Archiver) upload(ctx context.Context, name string, b []byte) error {
	obj := a.objectName(name)
	wc := a.bucket.Object(obj).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := io.Copy(wc, bytes.NewReader(b)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("error uploading %s to firebase storage: %w", obj, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("error closing writer: %w", err)
	}
	a.log.Infof("archive uploaded %s", obj)
	return nil
}

// writeFileAtomic writes through a temp file in the same dir so readers never
// see a partial snapshot.
func writeFileAtomic(dst string, b []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
