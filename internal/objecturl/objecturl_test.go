package objecturl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_S3URL(t *testing.T) {
	require.NoError(t, Validate(New("s3://my-bucket/prefix/key.fits")))
}

func TestValidate_S3URLMissingBucket(t *testing.T) {
	require.Error(t, Validate(New("s3:///key.fits")))
}

func TestValidate_HTTPSURL(t *testing.T) {
	require.NoError(t, Validate(New("https://my-bucket.s3.amazonaws.com/key.fits")))
}

func TestValidate_EmptyURL(t *testing.T) {
	require.Error(t, Validate(New("")))
}

func TestValidate_UnknownScheme(t *testing.T) {
	require.Error(t, Validate(New("ftp://example.com/key.fits")))
}

func TestBucketAndKey_SplitsCorrectly(t *testing.T) {
	bucket, key, err := New("s3://my-bucket/prefix/key.fits").BucketAndKey()
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "prefix/key.fits", key)
}

func TestBucketAndKey_NoKey(t *testing.T) {
	bucket, key, err := New("s3://my-bucket").BucketAndKey()
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "", key)
}

func TestBucketAndKey_RejectsNonS3(t *testing.T) {
	_, _, err := New("https://example.com/key.fits").BucketAndKey()
	require.Error(t, err)
}
