// Package awssig implements AWS Signature Version 4 request signing for
// the S3 object-store HTTP surface: canonical request construction,
// credential-scope derivation, and the Authorization header.
package awssig

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
)

const algorithm = "AWS4-HMAC-SHA256"

// emptyPayloadHash is the hex SHA-256 of the empty string, used as the
// payload hash for GET requests.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Credentials are the AWS access key pair and region used to sign
// requests.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// LoadDefaultCredentials reads the `default` section of ~/.aws/credentials.
// AWS_DEFAULT_REGION, if set, overrides the file's region value.
func LoadDefaultCredentials() (Credentials, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Credentials{}, fmt.Errorf("resolving home directory: %w", ferrors.AuthFailure)
	}
	path := filepath.Join(home, ".aws", "credentials")
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("opening %s: %v: %w", path, err, ferrors.AuthFailure)
	}
	defer f.Close()

	section := ""
	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}
		if section != "default" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("reading %s: %v: %w", path, err, ferrors.AuthFailure)
	}

	creds := Credentials{
		AccessKeyID:     values["aws_access_key_id"],
		SecretAccessKey: values["aws_secret_access_key"],
		Region:          values["region"],
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("credentials file %s missing default section keys: %w", path, ferrors.AuthFailure)
	}
	if override := os.Getenv("AWS_DEFAULT_REGION"); override != "" {
		creds.Region = override
	}
	if creds.Region == "" {
		return Credentials{}, fmt.Errorf("no region configured in %s or AWS_DEFAULT_REGION: %w", path, ferrors.AuthFailure)
	}
	return creds, nil
}

// Request is the minimal set of fields needed to compute a SigV4 signature;
// it mirrors the subset of http.Request the canonical request depends on.
type Request struct {
	Method         string
	Host           string
	Path           string
	Query          string
	Payload        []byte
	RequesterPays  bool
	now            time.Time // overridable for deterministic tests
}

// SignedHeaders returns the headers that must be set on the HTTP request
// (Authorization, x-amz-date, x-amz-content-sha256, and, if requested,
// x-amz-request-payer) to authenticate it with creds.
func SignedHeaders(req Request, creds Credentials) (http.Header, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" || creds.Region == "" {
		return nil, fmt.Errorf("incomplete credentials: %w", ferrors.AuthFailure)
	}
	now := req.now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	payloadHash := hashHex(req.Payload)
	if len(req.Payload) == 0 {
		payloadHash = emptyPayloadHash
	}

	headerNames := []string{"host", "x-amz-date"}
	headerValues := map[string]string{
		"host":        req.Host,
		"x-amz-date":  amzDate,
	}
	if req.RequesterPays {
		headerNames = append(headerNames, "x-amz-request-payer")
		headerValues["x-amz-request-payer"] = "requester"
	}
	sort.Strings(headerNames)

	var canonicalHeaders strings.Builder
	for _, name := range headerNames {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(headerValues[name])
		canonicalHeaders.WriteByte('\n')
	}
	signedHeaderNames := strings.Join(headerNames, ";")

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.Path,
		req.Query,
		canonicalHeaders.String(),
		signedHeaderNames,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, creds.Region)
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		credentialScope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(creds.SecretAccessKey, dateStamp, creds.Region, "s3")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authorization := fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, creds.AccessKeyID, credentialScope, signedHeaderNames, signature,
	)

	h := http.Header{}
	h.Set("Authorization", authorization)
	h.Set("x-amz-date", amzDate)
	h.Set("x-amz-content-sha256", payloadHash)
	if req.RequesterPays {
		h.Set("x-amz-request-payer", "requester")
	}
	return h, nil
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// deriveSigningKey implements the kDate -> kRegion -> kService -> kSigning
// HMAC derivation chain from the SigV4 spec.
func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	kSigning := hmacSHA256(kService, "aws4_request")
	return kSigning
}
