package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, key, ok, err := ParseURI("s3://models/demand/v3.json")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "demand/v3.json", key)

	_, _, ok, err = ParseURI("./models/demand.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, ok, err = ParseURI("s3://models")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestNewMinioClient_Validation(t *testing.T) {
	_, err := NewMinioClient(MinioConfig{})
	assert.Error(t, err)

	_, err = NewMinioClient(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	c, err := NewMinioClient(MinioConfig{Endpoint: "http://localhost:9000/", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
