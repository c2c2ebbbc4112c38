package scenario

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignPostFields(t *testing.T) {
	env := testEnv()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	fields := presignPost(env, "mybucket", "mykey.txt", 0, 10, now)

	assert.Equal(t, "mykey.txt", fields["key"])
	assert.Equal(t, "mybucket", fields["bucket"])
	assert.Equal(t, "AWS4-HMAC-SHA256", fields["x-amz-algorithm"])
	assert.Equal(t, "AKEXAMPLES3S/20260829/us-east-1/s3/aws4_request", fields["x-amz-credential"])
	assert.Equal(t, "20260829T120000Z", fields["x-amz-date"])

	// Signature must verify with the same derivation a backend would use.
	want := signPolicyForTest(env.SecretKey, env.Region, fields["x-amz-date"], fields["policy"])
	assert.Equal(t, want, fields["x-amz-signature"])

	policyJSON, err := base64.StdEncoding.DecodeString(fields["policy"])
	require.NoError(t, err)
	var policy struct {
		Expiration string `json:"expiration"`
		Conditions []any  `json:"conditions"`
	}
	require.NoError(t, json.Unmarshal(policyJSON, &policy))
	assert.Equal(t, "2026-08-29T13:00:00.000Z", policy.Expiration)

	var foundRange bool
	for _, cond := range policy.Conditions {
		if arr, ok := cond.([]any); ok && len(arr) == 3 && arr[0] == "content-length-range" {
			foundRange = true
			assert.Equal(t, float64(0), arr[1])
			assert.Equal(t, float64(10), arr[2])
		}
	}
	assert.True(t, foundRange, "policy must carry the content-length-range condition")
}

func TestPresignedPostRangeAgainstConformantBackend(t *testing.T) {
	_, env := newFakeS3(t)

	out, err := (&PresignedPostRange{}).Run(context.Background(), env)
	require.NoError(t, err, "output:\n%s", out)

	assert.Contains(t, out, "PASS: exceeds max is rejected")
	assert.Contains(t, out, "PASS: within range is accepted")
	assert.Contains(t, out, "PASS: below min is rejected")
}

func TestPresignedPostRangeDetectsMissingEnforcement(t *testing.T) {
	f, env := newFakeS3(t)
	// A backend that accepts every upload regardless of the policy.
	f.ignorePolicy = true

	out, err := (&PresignedPostRange{}).Run(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL: exceeds max is rejected")
	assert.Contains(t, out, "PASS: within range is accepted")
	assert.Contains(t, out, "FAIL: below min is rejected")
}

func TestPresignedPostRangeName(t *testing.T) {
	assert.Equal(t, "presigned-post-range", (&PresignedPostRange{}).Name())
}

func TestBuiltinRegistry(t *testing.T) {
	for _, name := range BuiltinNames() {
		sc, ok := Builtin(name)
		require.True(t, ok, name)
		assert.Equal(t, name, sc.Name())
	}

	_, ok := Builtin("no-such-scenario")
	assert.False(t, ok)
}
