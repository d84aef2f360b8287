package gcsfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, object, err := ParseURI("gs://my-bucket/exports/2024/january.csv")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "exports/2024/january.csv", object)
}

func TestParseURIRejectsMalformed(t *testing.T) {
	for _, uri := range []string{
		"",
		"my-bucket/object.csv",
		"https://storage.googleapis.com/b/o",
		"gs://bucket-only",
		"gs:///object-only",
	} {
		_, _, err := ParseURI(uri)
		assert.Error(t, err, uri)
	}
}
