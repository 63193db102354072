package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// LatLng is a geographic centroid.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UnmarshalJSON accepts both {"lat":28.5,"lng":77.2} and [28.5, 77.2].
func (l *LatLng) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("coordinate pair has %d elements", len(pair))
		}
		l.Lat, l.Lng = pair[0], pair[1]
		return nil
	}
	type plain LatLng
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = LatLng(p)
	return nil
}

// CentroidIndex maps pincodes to their geographic centroids. Immutable after
// construction.
type CentroidIndex struct {
	coords map[Pincode]LatLng
}

// NewCentroidIndex reads a JSON object keyed by pincode:
// {"110020": {"lat": 28.52, "lng": 77.28}, ...}.
func NewCentroidIndex(r io.Reader) (*CentroidIndex, error) {
	var raw map[string]LatLng
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding centroid catalog: %w", err)
	}
	coords := make(map[Pincode]LatLng, len(raw))
	for key, ll := range raw {
		pin, err := ParsePincode(key)
		if err != nil {
			continue
		}
		coords[pin] = ll
	}
	return &CentroidIndex{coords: coords}, nil
}

// CentroidIndexFromFile reads the centroid catalog from path.
func CentroidIndexFromFile(path string) (*CentroidIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening centroid catalog: %w", err)
	}
	defer f.Close()
	return NewCentroidIndex(f)
}

// CoordsOf returns the centroid for a pincode.
func (c *CentroidIndex) CoordsOf(p Pincode) (LatLng, bool) {
	ll, ok := c.coords[p]
	return ll, ok
}

func (c *CentroidIndex) Contains(p Pincode) bool {
	_, ok := c.coords[p]
	return ok
}

func (c *CentroidIndex) Len() int {
	return len(c.coords)
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two centroids.
func HaversineKm(a, b LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
