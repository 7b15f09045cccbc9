// Package objecturl validates object-store URLs before any network call is
// made: s3://bucket/key paths and https:// endpoints, not content-addressed
// (CID/IPFS/Filecoin) targets.
package objecturl

import (
	"fmt"
	"strings"

	"github.com/goware/urlx"

	"github.com/jbcurtin/cloud-fits/internal/ferrors"
)

// URL is a validated object-store location: either an s3://bucket/key path
// or an https://host/... endpoint.
type URL string

// New wraps a raw string without validating it; call Validate before use.
func New(raw string) URL {
	return URL(raw)
}

func (u URL) String() string {
	return string(u)
}

// IsS3 reports whether u uses the s3:// scheme.
func (u URL) IsS3() bool {
	return strings.HasPrefix(string(u), "s3://")
}

// IsWeb reports whether u uses http:// or https://.
func (u URL) IsWeb() bool {
	s := string(u)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// BucketAndKey splits an s3:// URL into its bucket and key components.
// Only valid when IsS3() is true.
func (u URL) BucketAndKey() (bucket, key string, err error) {
	if !u.IsS3() {
		return "", "", fmt.Errorf("not an s3:// URL: %q: %w", u, ferrors.AuthFailure)
	}
	rest := strings.TrimPrefix(string(u), "s3://")
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, "", nil
	}
	return rest[:idx], rest[idx+1:], nil
}

// Validate checks that u is either a well-formed s3:// path or a
// parseable https:// URL, returning AuthFailure-wrapped errors otherwise so
// configuration mistakes surface before the first HTTP round trip.
func Validate(u URL) error {
	if u == "" {
		return fmt.Errorf("object URL is empty: %w", ferrors.AuthFailure)
	}
	if u.IsS3() {
		bucket, _, err := u.BucketAndKey()
		if err != nil {
			return err
		}
		if bucket == "" {
			return fmt.Errorf("s3:// URL %q has no bucket: %w", u, ferrors.AuthFailure)
		}
		return nil
	}
	if u.IsWeb() {
		if _, err := urlx.Parse(string(u)); err != nil {
			return fmt.Errorf("malformed object URL %q: %v: %w", u, err, ferrors.AuthFailure)
		}
		return nil
	}
	return fmt.Errorf("object URL %q must start with s3:// or http(s)://: %w", u, ferrors.AuthFailure)
}
