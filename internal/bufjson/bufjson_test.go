package bufjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
	Blob []byte `json:"blob"`
	Tags []string
	Sub  *sample `json:"sub,omitempty"`
}

func TestRoundTripPreservesBuffers(t *testing.T) {
	in := sample{
		Name: "alpha",
		Blob: []byte{0x00, 0xFF, 0x10, 0x7F},
		Tags: []string{"a", "b"},
		Sub: &sample{
			Name: "nested",
			Blob: []byte("binary\x00data"),
		},
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))

	require.Equal(t, in.Name, out.Name)
	require.Equal(t, in.Blob, out.Blob)
	require.Equal(t, in.Tags, out.Tags)
	require.Equal(t, in.Sub.Name, out.Sub.Name)
	require.Equal(t, in.Sub.Blob, out.Sub.Blob)
}

func TestEmptyBufferRoundTrips(t *testing.T) {
	in := sample{Name: "empty", Blob: []byte{}}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	require.Equal(t, in.Name, out.Name)
	require.Len(t, out.Blob, 0)
}

func TestMarshalTagsBufferFields(t *testing.T) {
	data, err := Marshal(sample{Blob: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"Buffer"`)
}
