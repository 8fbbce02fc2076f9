package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	FetchedAt time.Time
	Serials   map[int]string
}

func TestLookup(t *testing.T) {
	for _, name := range []string{JSONType, GobType, ""} {
		codec, err := Lookup(name)
		require.NoError(t, err, name)

		in := snapshot{
			FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Serials:   map[int]string{1: "ipfs://a", 2: "ipfs://b"},
		}
		data, err := codec.Marshal(in)
		require.NoError(t, err)

		var out snapshot
		require.NoError(t, codec.Unmarshal(data, &out))
		assert.True(t, in.FetchedAt.Equal(out.FetchedAt))
		assert.Equal(t, in.Serials, out.Serials)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("cbor")
	assert.EqualError(t, err, "unsupported serialization type: cbor")
}

func TestUnmarshalGarbage(t *testing.T) {
	codec, err := Lookup(JSONType)
	require.NoError(t, err)

	var out snapshot
	assert.Error(t, codec.Unmarshal([]byte("{not json"), &out))
}
