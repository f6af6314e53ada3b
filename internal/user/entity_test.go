// AngelaMos | 2026
// entity_test.go

package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValue(t *testing.T) {
	var empty Metadata
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	v, err = Metadata{"full_name": "Ada"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"full_name":"Ada"}`, string(v.([]byte)))
}

func TestMetadataScan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		want Metadata
	}{
		{"null", nil, Metadata{}},
		{"bytes", []byte(`{"name":"ada"}`), Metadata{"name": "ada"}},
		{"string", `{"full_name":"Ada L"}`, Metadata{"full_name": "Ada L"}},
		{"empty", []byte{}, Metadata{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Metadata
			require.NoError(t, m.Scan(tt.src))
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestMetadataScanRejects(t *testing.T) {
	var m Metadata
	require.Error(t, m.Scan(42))
	require.Error(t, m.Scan([]byte(`{"nested":{"a":1}}`)))
}
