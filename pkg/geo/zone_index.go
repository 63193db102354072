package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrEmptyCatalog = errors.New("pincode catalog is empty")
)

// ZoneInfo is the master catalog record for a single pincode.
type ZoneInfo struct {
	Zone  string
	State string
	City  string
}

// ZoneIndex maps pincodes to pricing zones. Built once at startup from the
// master catalog file; immutable afterwards, so it is safe for concurrent use
// without locking.
type ZoneIndex struct {
	byPincode map[Pincode]ZoneInfo
	byZone    map[string][]Pincode
	all       []Pincode
}

type catalogEntry struct {
	Pincode Pincode `json:"pincode"`
	Zone    string  `json:"zone"`
	State   string  `json:"state"`
	City    string  `json:"city"`
}

// NewZoneIndex reads a JSON array of {pincode, zone, state, city} records.
// Zone codes are normalised to uppercase. Records with an empty zone are
// skipped; duplicate pincodes keep the last record seen.
func NewZoneIndex(r io.Reader) (*ZoneIndex, error) {
	var entries []catalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding pincode catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}

	idx := &ZoneIndex{
		byPincode: make(map[Pincode]ZoneInfo, len(entries)),
		byZone:    make(map[string][]Pincode),
	}
	for _, e := range entries {
		zone := NormalizeZone(e.Zone)
		if zone == "" {
			continue
		}
		if _, seen := idx.byPincode[e.Pincode]; !seen {
			idx.byZone[zone] = append(idx.byZone[zone], e.Pincode)
			idx.all = append(idx.all, e.Pincode)
		}
		idx.byPincode[e.Pincode] = ZoneInfo{Zone: zone, State: e.State, City: e.City}
	}
	return idx, nil
}

// ZoneIndexFromFile reads the master catalog from path.
func ZoneIndexFromFile(path string) (*ZoneIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pincode catalog: %w", err)
	}
	defer f.Close()
	return NewZoneIndex(f)
}

// ZoneOf returns the master zone for a pincode.
func (z *ZoneIndex) ZoneOf(p Pincode) (string, bool) {
	info, ok := z.byPincode[p]
	return info.Zone, ok
}

// MetadataOf returns the city/state record for a pincode.
func (z *ZoneIndex) MetadataOf(p Pincode) (ZoneInfo, bool) {
	info, ok := z.byPincode[p]
	return info, ok
}

func (z *ZoneIndex) Contains(p Pincode) bool {
	_, ok := z.byPincode[p]
	return ok
}

// PincodesInZone returns every master pincode in the given zone. The returned
// slice is shared; callers must not modify it.
func (z *ZoneIndex) PincodesInZone(zone string) []Pincode {
	return z.byZone[NormalizeZone(zone)]
}

// AllPincodes returns every master pincode. The returned slice is shared;
// callers must not modify it.
func (z *ZoneIndex) AllPincodes() []Pincode {
	return z.all
}

// Zones returns the distinct zone codes in the catalog.
func (z *ZoneIndex) Zones() []string {
	zones := make([]string, 0, len(z.byZone))
	for zone := range z.byZone {
		zones = append(zones, zone)
	}
	return zones
}

func (z *ZoneIndex) Len() int {
	return len(z.byPincode)
}

// NormalizeZone uppercases and trims a zone code. Zone keys are
// case-insensitive on input everywhere in the system.
func NormalizeZone(zone string) string {
	return strings.ToUpper(strings.TrimSpace(zone))
}
