package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/cdcops/dms-replicator/internal/parquet"
	"github.com/cdcops/dms-replicator/internal/replicator"
	"github.com/cdcops/dms-replicator/internal/services"
)

// ProvideContext provides the root context with the logger attached.
func ProvideContext(logger zerolog.Logger) context.Context {
	return logger.WithContext(context.Background())
}

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx)
}

func ProvideDynamoDB(config aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(config)
}

func ProvideS3Client(config aws.Config) *s3.Client {
	return s3.NewFromConfig(config)
}

func ProvideS3Scanner(client *s3.Client) services.S3Scanner {
	return services.NewS3Service(client)
}

// ProvideDecoder provides the Parquet decoder the replicator applies to
// fetched objects.
func ProvideDecoder() replicator.Decoder {
	return parquet.ReadRows
}
