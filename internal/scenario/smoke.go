package scenario

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Smoke is the built-in baseline scenario: a bucket and object round trip.
// Every conformant backend must pass it regardless of feature surface.
type Smoke struct{}

// Name implements Scenario.
func (s *Smoke) Name() string { return "smoke" }

// Run implements Scenario.
func (s *Smoke) Run(ctx context.Context, env backend.BoundEnv) (string, error) {
	client, err := s3Client(ctx, env)
	if err != nil {
		return "", fmt.Errorf("build client: %w", err)
	}

	bucket := "conf-smoke-" + uuid.New().String()[:8]
	key := "smoke-object.txt"
	body := []byte("conformance smoke payload")

	var out strings.Builder
	step := func(name string, fn func() error) error {
		if err := fn(); err != nil {
			fmt.Fprintf(&out, "FAIL: %s: %v\n", name, err)
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(&out, "PASS: %s\n", name)
		return nil
	}

	defer func() {
		// Best-effort cleanup so a failed run does not leave data behind.
		client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	}()

	if err := step("create bucket", func() error {
		_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		return err
	}); err != nil {
		return out.String(), err
	}

	if err := step("head bucket", func() error {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return err
	}); err != nil {
		return out.String(), err
	}

	if err := step("put object", func() error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		return err
	}); err != nil {
		return out.String(), err
	}

	if err := step("get object", func() error {
		resp, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		got, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, body) {
			return fmt.Errorf("object content mismatch: got %d bytes, want %d", len(got), len(body))
		}
		return nil
	}); err != nil {
		return out.String(), err
	}

	if err := step("delete object", func() error {
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		return err
	}); err != nil {
		return out.String(), err
	}

	if err := step("delete bucket", func() error {
		_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
		return err
	}); err != nil {
		return out.String(), err
	}

	return out.String(), nil
}
