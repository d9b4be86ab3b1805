package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/cdcops/dms-replicator/internal/models"
)

// S3Scanner discovers and fetches the Parquet files DMS writes for a table.
type S3Scanner interface {
	// ListParquetFiles returns the objects a run should apply, LOAD files
	// first, then CDC files in listing order.
	ListParquetFiles(ctx context.Context, payload models.LoadPayload) ([]models.S3Object, error)

	// FetchObject downloads one object's full body.
	FetchObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// s3API is the slice of the S3 client the scanner uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Service implements S3Scanner using the AWS SDK.
type S3Service struct {
	client s3API
}

var _ S3Scanner = (*S3Service)(nil)

// NewS3Service creates a new S3-backed scanner.
func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{client: client}
}

func (s *S3Service) ListParquetFiles(ctx context.Context, payload models.LoadPayload) ([]models.S3Object, error) {
	if payload.AbsolutePath != "" {
		// The object's real modification time matters: checkpoints store it,
		// and a fabricated "now" would skip every CDC file behind it.
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &payload.Bucket,
			Key:    &payload.AbsolutePath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to head s3://%s/%s: %w", payload.Bucket, payload.AbsolutePath, err)
		}

		var lastModified time.Time
		if head.LastModified != nil {
			lastModified = head.LastModified.UTC()
		}
		return []models.S3Object{{Key: payload.AbsolutePath, LastModified: lastModified}}, nil
	}

	prefixPath := payload.Spec.PrefixPath(payload.Prefix)
	startDatePath := fmt.Sprintf("%s/%d/%02d/%02d/",
		prefixPath,
		payload.StartDate.Year(), payload.StartDate.Month(), payload.StartDate.Day())

	files, err := s.listSince(ctx, payload.Bucket, startDatePath, prefixPath+"/", payload.StartDate, payload.StopDate)
	if err != nil {
		return nil, err
	}

	// LOAD files are applied in insert mode before any CDC file, so rotate
	// them to the front of the listing.
	return rotateLoadFirst(files), nil
}

// listSince walks the table prefix with StartAfter set to the start date's
// day directory, following continuation tokens until the listing is
// exhausted. LOAD files are kept regardless of their modification time.
func (s *S3Service) listSince(ctx context.Context, bucket, startDatePath, prefixPath string, startDate, stopDate time.Time) ([]models.S3Object, error) {
	logger := zerolog.Ctx(ctx)

	var (
		files     []models.S3Object
		nextToken *string
	)
	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			StartAfter:        &startDatePath,
			Prefix:            &prefixPath,
			ContinuationToken: nextToken,
		}

		response, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefixPath, err)
		}

		for _, object := range response.Contents {
			if object.Key == nil || object.LastModified == nil {
				continue
			}
			key := *object.Key
			if includeKey(key, *object.LastModified, startDate, stopDate) {
				logger.Debug().Str("key", key).Msg("Matched file")
				files = append(files, models.S3Object{Key: key, LastModified: object.LastModified.UTC()})
			}
		}

		nextToken = response.NextContinuationToken
		if nextToken == nil {
			break
		}
	}

	logger.Info().Int("count", len(files)).Str("prefix", prefixPath).Msg("Files to process")
	return files, nil
}

func (s *S3Service) FetchObject(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer object.Body.Close()

	body, err := io.ReadAll(object.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return body, nil
}

// includeKey decides whether an object belongs to the run's window. LOAD
// files are always included; CDC files must fall inside (start, stop).
func includeKey(key string, lastModified, startDate, stopDate time.Time) bool {
	if models.KindOfKey(key) == models.KindLoad {
		return true
	}
	if !lastModified.After(startDate) {
		return false
	}
	if !stopDate.IsZero() && !lastModified.Before(stopDate) {
		return false
	}
	return true
}

// rotateLoadFirst moves all LOAD files to the front while preserving the
// relative order of both groups.
func rotateLoadFirst(files []models.S3Object) []models.S3Object {
	if len(files) == 0 {
		return files
	}

	loads := make([]models.S3Object, 0, len(files))
	cdc := make([]models.S3Object, 0, len(files))
	for _, f := range files {
		if models.KindOfKey(f.Key) == models.KindLoad {
			loads = append(loads, f)
		} else {
			cdc = append(cdc, f)
		}
	}
	return append(loads, cdc...)
}
