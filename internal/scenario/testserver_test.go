package scenario

import (
	"bufio"
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
)

// fakeS3 is a minimal in-memory S3 endpoint for scenario tests. It implements
// just enough of the API surface the built-in scenarios touch, including
// presigned POST policy enforcement.
type fakeS3 struct {
	t *testing.T

	accessKey string
	secretKey string
	region    string

	// ignorePolicy simulates a non-conformant backend that accepts POST
	// uploads without enforcing the policy conditions.
	ignorePolicy bool

	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeS3(t *testing.T) (*fakeS3, backend.BoundEnv) {
	t.Helper()

	f := &fakeS3{
		t:         t,
		accessKey: "ak-test",
		secretKey: "sk-test",
		region:    "us-east-1",
		buckets:   make(map[string]bool),
		objects:   make(map[string][]byte),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return f, backend.BoundEnv{
		EndpointURL: srv.URL,
		AccessKey:   f.accessKey,
		SecretKey:   f.secretKey,
		Region:      f.region,
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	bucket, key, hasKey := strings.Cut(path, "/")

	if !hasKey {
		f.serveBucket(w, r, bucket)
		return
	}
	f.serveObject(w, r, bucket, key)
}

func (f *fakeS3) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if f.buckets[bucket] {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodGet:
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<ListBucketResult><Name>%s</Name><KeyCount>0</KeyCount><IsTruncated>false</IsTruncated></ListBucketResult>`, bucket)
	case http.MethodDelete:
		delete(f.buckets, bucket)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		f.servePostObject(w, r, bucket)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) serveObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := bucket + "/" + key
	switch r.Method {
	case http.MethodPut:
		var body io.Reader = r.Body
		if isAWSChunked(r.Header.Get("Content-Encoding"), r.Header.Get("X-Amz-Content-Sha256")) {
			body = newAWSChunkedReader(r.Body)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[id] = data
		w.Header().Set("ETag", `"test-etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[id]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", "key not found")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// servePostObject enforces the presigned POST policy the way a conformant
// backend must: verify the signature over the policy, then apply its
// content-length-range condition to the uploaded file.
func (f *fakeS3) servePostObject(w http.ResponseWriter, r *http.Request, bucket string) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeS3Error(w, http.StatusBadRequest, "MalformedPOSTRequest", err.Error())
		return
	}

	policyB64 := r.FormValue("policy")
	signature := r.FormValue("x-amz-signature")

	want := signPolicyForTest(f.secretKey, f.region, r.FormValue("x-amz-date"), policyB64)
	if !hmac.Equal([]byte(signature), []byte(want)) {
		writeS3Error(w, http.StatusForbidden, "SignatureDoesNotMatch", "bad signature")
		return
	}

	policyJSON, err := base64.StdEncoding.DecodeString(policyB64)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidPolicyDocument", "bad base64")
		return
	}
	var policy struct {
		Conditions []any `json:"conditions"`
	}
	if err := json.Unmarshal(policyJSON, &policy); err != nil {
		writeS3Error(w, http.StatusBadRequest, "InvalidPolicyDocument", "bad json")
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeS3Error(w, http.StatusBadRequest, "MalformedPOSTRequest", "missing file")
		return
	}
	size := files[0].Size

	if f.ignorePolicy {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	for _, cond := range policy.Conditions {
		arr, ok := cond.([]any)
		if !ok || len(arr) != 3 {
			continue
		}
		if name, _ := arr[0].(string); name != "content-length-range" {
			continue
		}
		minLen, _ := arr[1].(float64)
		maxLen, _ := arr[2].(float64)
		if float64(size) > maxLen {
			writeS3Error(w, http.StatusBadRequest, "EntityTooLarge", "upload exceeds maximum allowed size")
			return
		}
		if float64(size) < minLen {
			writeS3Error(w, http.StatusBadRequest, "EntityTooSmall", "upload is smaller than minimum allowed size")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func signPolicyForTest(secretKey, region, amzDate, policyB64 string) string {
	dateStamp := amzDate
	if len(dateStamp) > 8 {
		dateStamp = dateStamp[:8]
	}
	key := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	key = hmacSHA256(key, []byte(region))
	key = hmacSHA256(key, []byte("s3"))
	key = hmacSHA256(key, []byte("aws4_request"))
	return hex.EncodeToString(hmacSHA256(key, []byte(policyB64)))
}

func writeS3Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, message)
}

// awsChunkedReader decodes an aws-chunked request body:
//
//	<hex-size>;chunk-signature=<signature>\r\n
//	<data>\r\n
//	...
//	0;chunk-signature=<final-signature>\r\n
type awsChunkedReader struct {
	reader    *bufio.Reader
	remaining int64
	done      bool
}

func newAWSChunkedReader(r io.Reader) *awsChunkedReader {
	return &awsChunkedReader{reader: bufio.NewReader(r)}
}

func (cr *awsChunkedReader) Read(p []byte) (int, error) {
	if cr.done {
		return 0, io.EOF
	}

	if cr.remaining == 0 {
		if err := cr.readChunkHeader(); err != nil {
			return 0, err
		}
		if cr.remaining == 0 {
			// Final chunk; trailers may follow but carry no object data.
			cr.done = true
			return 0, io.EOF
		}
	}

	toRead := int64(len(p))
	if toRead > cr.remaining {
		toRead = cr.remaining
	}

	n, err := cr.reader.Read(p[:toRead])
	cr.remaining -= int64(n)

	if cr.remaining == 0 && n > 0 {
		_, _ = cr.reader.ReadString('\n')
	}
	if err == io.EOF && !cr.done {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (cr *awsChunkedReader) readChunkHeader() error {
	line, err := cr.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	line = strings.TrimSuffix(line, "\r\n")
	line = strings.TrimSuffix(line, "\n")
	if idx := strings.Index(line, ";"); idx >= 0 {
		line = line[:idx]
	}

	size, err := strconv.ParseInt(line, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid chunk size %q", line)
	}
	cr.remaining = size
	return nil
}

func isAWSChunked(contentEncoding, contentSHA256 string) bool {
	return strings.Contains(contentEncoding, "aws-chunked") ||
		strings.HasPrefix(contentSHA256, "STREAMING-")
}
