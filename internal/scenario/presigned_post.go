package scenario

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PresignedPostRange verifies that POST Object enforces the
// content-length-range condition of a presigned POST policy: an oversized
// upload must be rejected with EntityTooLarge, an undersized one with
// EntityTooSmall, and an in-range one must be accepted.
type PresignedPostRange struct {
	// HTTPClient is used for the form uploads; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Name implements Scenario.
func (p *PresignedPostRange) Name() string { return "presigned-post-range" }

// Run implements Scenario.
func (p *PresignedPostRange) Run(ctx context.Context, env backend.BoundEnv) (string, error) {
	client, err := s3Client(ctx, env)
	if err != nil {
		return "", fmt.Errorf("build client: %w", err)
	}

	bucket := "conf-post-" + uuid.New().String()[:8]
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return "", fmt.Errorf("create bucket: %w", err)
	}
	defer p.cleanupBucket(ctx, client, bucket)

	checks := []struct {
		name       string
		min, max   int64
		body       []byte
		wantStatus []int
		wantCode   string
	}{
		{
			name:       "exceeds max is rejected",
			min:        0,
			max:        10,
			body:       []byte("very long contents, longer than 10 bytes"),
			wantStatus: []int{http.StatusBadRequest},
			wantCode:   "EntityTooLarge",
		},
		{
			name:       "within range is accepted",
			min:        0,
			max:        1000,
			body:       []byte("short"),
			wantStatus: []int{http.StatusOK, http.StatusNoContent},
		},
		{
			name:       "below min is rejected",
			min:        100,
			max:        1000,
			body:       []byte("tiny"),
			wantStatus: []int{http.StatusBadRequest},
			wantCode:   "EntityTooSmall",
		},
	}

	var out strings.Builder
	var failures []error
	for _, c := range checks {
		key := "post-" + uuid.New().String()[:8] + ".txt"
		fields := presignPost(env, bucket, key, c.min, c.max, time.Now())

		status, respBody, err := p.postForm(ctx, env.EndpointURL+"/"+bucket, fields, c.body)
		if err != nil {
			fmt.Fprintf(&out, "FAIL: %s: %v\n", c.name, err)
			failures = append(failures, fmt.Errorf("%s: %w", c.name, err))
			continue
		}

		if !containsInt(c.wantStatus, status) {
			fmt.Fprintf(&out, "FAIL: %s: status %d, want %v: %s\n", c.name, status, c.wantStatus, respBody)
			failures = append(failures, fmt.Errorf("%s: unexpected status %d", c.name, status))
			continue
		}
		if c.wantCode != "" && !strings.Contains(respBody, c.wantCode) {
			fmt.Fprintf(&out, "FAIL: %s: error code %s missing from response: %s\n", c.name, c.wantCode, respBody)
			failures = append(failures, fmt.Errorf("%s: expected error code %s", c.name, c.wantCode))
			continue
		}
		fmt.Fprintf(&out, "PASS: %s\n", c.name)
	}

	if len(failures) > 0 {
		return out.String(), errors.Join(failures...)
	}
	return out.String(), nil
}

func (p *PresignedPostRange) cleanupBucket(ctx context.Context, client *s3.Client, bucket string) {
	resp, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	if err == nil {
		for _, obj := range resp.Contents {
			client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
		}
	}
	if _, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil && !isAPIErrorCode(err, "NoSuchBucket") {
		log.Debug().Err(err).Str("bucket", bucket).Msg("Leftover scenario bucket not removed")
	}
}

func (p *PresignedPostRange) postForm(ctx context.Context, url string, fields map[string]string, fileBody []byte) (int, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return 0, "", err
		}
	}
	// The file part must come last, after all policy fields.
	fw, err := w.CreateFormFile("file", "test.txt")
	if err != nil {
		return 0, "", err
	}
	if _, err := fw.Write(fileBody); err != nil {
		return 0, "", err
	}
	if err := w.Close(); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

// presignPost builds the form fields for a presigned POST upload whose policy
// carries a content-length-range condition, signed with SigV4.
func presignPost(env backend.BoundEnv, bucket, key string, minLen, maxLen int64, now time.Time) map[string]string {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")
	credential := fmt.Sprintf("%s/%s/%s/s3/aws4_request", env.AccessKey, dateStamp, env.Region)

	policy := map[string]any{
		"expiration": now.UTC().Add(time.Hour).Format("2006-01-02T15:04:05.000Z"),
		"conditions": []any{
			map[string]string{"bucket": bucket},
			map[string]string{"key": key},
			[]any{"content-length-range", minLen, maxLen},
			map[string]string{"x-amz-algorithm": "AWS4-HMAC-SHA256"},
			map[string]string{"x-amz-credential": credential},
			map[string]string{"x-amz-date": amzDate},
		},
	}
	policyJSON, _ := json.Marshal(policy)
	policyB64 := base64.StdEncoding.EncodeToString(policyJSON)

	signingKey := hmacSHA256([]byte("AWS4"+env.SecretKey), []byte(dateStamp))
	signingKey = hmacSHA256(signingKey, []byte(env.Region))
	signingKey = hmacSHA256(signingKey, []byte("s3"))
	signingKey = hmacSHA256(signingKey, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(policyB64)))

	return map[string]string{
		"key":              key,
		"bucket":           bucket,
		"x-amz-algorithm":  "AWS4-HMAC-SHA256",
		"x-amz-credential": credential,
		"x-amz-date":       amzDate,
		"policy":           policyB64,
		"x-amz-signature":  signature,
	}
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// isAPIErrorCode reports whether err is an S3 API error with the given code.
func isAPIErrorCode(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
