package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"golang.org/x/sync/errgroup"
)

// NewS3 erstellt einen S3-Client fuer region
func NewS3(region string) (*s3.S3, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, err
	}
	return s3.New(sess, aws.NewConfig().WithRegion(region)), nil
}

// ParseS3URL zerlegt s3://bucket/prefix
func ParseS3URL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 url %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 url %q: want s3://bucket/prefix", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// Mirror laedt alle Dateien aus dir nach target hoch und gibt die Keys zurueck
func Mirror(ctx context.Context, client s3iface.S3API, dir, target string, workers int) ([]string, error) {
	bucket, prefix, err := ParseS3URL(target)
	if err != nil {
		return nil, err
	}

	files, err := List(dir)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, f := range files {
		key := path.Join(prefix, f.Name)
		keys[i] = key
		g.Go(func() error {
			r, err := os.Open(filepath.Join(dir, f.Name))
			if err != nil {
				return err
			}
			defer r.Close()

			slog.Debug("uploading artifact", "file", f.Name, "bucket", bucket, "key", key)
			if _, err := client.PutObjectWithContext(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(bucket),
				Key:           aws.String(key),
				Body:          r,
				ContentLength: aws.Int64(f.Size),
			}); err != nil {
				return fmt.Errorf("upload %s to s3://%s/%s: %w", f.Name, bucket, key, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}
