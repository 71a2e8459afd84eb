package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

func TestCodec_SortsMapKeys(t *testing.T) {
	c := Default()

	first, err := c.Marshal(map[string]interface{}{"title": "b", "all": "a", "key": "k"})
	require.NoError(t, err)
	second, err := c.Marshal(map[string]interface{}{"key": "k", "title": "b", "all": "a"})
	require.NoError(t, err)

	assert.Equal(t, `{"all":"a","key":"k","title":"b"}`, string(first))
	assert.Equal(t, first, second)
}

func TestCodec_IgnoresUnknownFieldsByDefault(t *testing.T) {
	var s sample
	err := Default().Unmarshal([]byte(`{"key":"1","title":"Birds","extra":true}`), &s)
	require.NoError(t, err)
	assert.Equal(t, sample{Key: "1", Title: "Birds"}, s)
}

func TestCodec_DisallowUnknownFields(t *testing.T) {
	var s sample
	err := New(Options{DisallowUnknownFields: true}).Unmarshal([]byte(`{"key":"1","extra":true}`), &s)
	assert.Error(t, err)
}

func TestCodec_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Encode(&buf, sample{Title: "<b>&</b>"}))
	assert.Contains(t, buf.String(), "<b>&</b>")
}

func TestCodec_IsZero(t *testing.T) {
	var c Codec
	assert.True(t, c.IsZero())
	assert.False(t, Default().IsZero())
}
