package scenario

import (
	"context"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client builds an S3 client for a bound environment. Path-style addressing
// is forced because the backends under test serve on bare host:port endpoints
// without wildcard DNS.
func s3Client(ctx context.Context, env backend.BoundEnv) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(env.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.AccessKey,
			env.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(env.EndpointURL)
		o.UsePathStyle = true
	})
	return client, nil
}
