package geo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCentroidIndex(t *testing.T) {
	data := `{
	  "110020": {"lat": 28.6139, "lng": 77.2090},
	  "560060": [12.9716, 77.5946],
	  "bogus": {"lat": 1, "lng": 2}
	}`
	idx, err := NewCentroidIndex(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	delhi, ok := idx.CoordsOf(110020)
	require.True(t, ok)
	assert.InDelta(t, 28.6139, delhi.Lat, 1e-9)

	blr, ok := idx.CoordsOf(560060)
	require.True(t, ok)
	assert.InDelta(t, 77.5946, blr.Lng, 1e-9)

	_, ok = idx.CoordsOf(123456)
	assert.False(t, ok)
}

func TestHaversineKm(t *testing.T) {
	delhi := LatLng{Lat: 28.6139, Lng: 77.2090}
	bengaluru := LatLng{Lat: 12.9716, Lng: 77.5946}

	tests := map[string]struct {
		a, b  LatLng
		want  float64
		delta float64
	}{
		"same point":      {a: delhi, b: delhi, want: 0, delta: 0.001},
		"delhi bengaluru": {a: delhi, b: bengaluru, want: 1740, delta: 10},
		"symmetric":       {a: bengaluru, b: delhi, want: 1740, delta: 10},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HaversineKm(tt.a, tt.b), tt.delta)
		})
	}
}

func TestLatLngUnmarshalJSON(t *testing.T) {
	idx, err := NewCentroidIndex(strings.NewReader(`{"1": [1.5]}`))
	require.Error(t, err)
	assert.Nil(t, idx)
}
