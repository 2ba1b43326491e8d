package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURL(t *testing.T) {
	encoded := EncodeDataURL("image/jpeg", []byte("hello"))
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", encoded)

	mimeType, data, err := DecodeDataURL(encoded)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Equal(t, []byte("hello"), data)
}

func TestEncodeDataURL_DefaultMIME(t *testing.T) {
	assert.Equal(t, "data:application/octet-stream;base64,AA==", EncodeDataURL("", []byte{0}))
}

func TestDecodeDataURL_Invalid(t *testing.T) {
	for _, s := range []string{
		"https://cdn.example.com/a.png",
		"data:image/png;base64",
		"data:image/svg+xml,<svg/>",
		"data:image/png;base64,!!!",
	} {
		_, _, err := DecodeDataURL(s)
		assert.Error(t, err, s)
	}
}

func TestHostMatcher(t *testing.T) {
	m, err := NewHostMatcher([]string{"cdn.example.com", "*.amazonaws.com", " ", "Images.Clinic.MD"})
	require.NoError(t, err)

	assert.True(t, m.Allowed("cdn.example.com"))
	assert.True(t, m.Allowed("bucket.s3.amazonaws.com"))
	assert.True(t, m.Allowed("images.clinic.md"))
	assert.True(t, m.Allowed("CDN.EXAMPLE.COM"))
	assert.False(t, m.Allowed("evil.com"))
	assert.False(t, m.Allowed("example.com"))

	empty, err := NewHostMatcher(nil)
	require.NoError(t, err)
	assert.True(t, empty.Allowed("anything.test"))
}
