package carrier

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipkaro/freightrate/pkg/geo"
)

func TestPinRangeUnmarshalJSON(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    PinRange
		wantErr bool
	}{
		"pair":               {in: `[110001, 110098]`, want: PinRange{110001, 110098}},
		"pair of strings":    {in: `["110001", "110098"]`, want: PinRange{110001, 110098}},
		"object s e":         {in: `{"s": 560001, "e": 560100}`, want: PinRange{560001, 560100}},
		"object start end":   {in: `{"start": 560001, "end": 560100}`, want: PinRange{560001, 560100}},
		"reversed pair":      {in: `[110098, 110001]`, want: PinRange{110001, 110098}},
		"single element":     {in: `[110001]`, wantErr: true},
		"three elements":     {in: `[1, 2, 3]`, wantErr: true},
		"object missing end": {in: `{"s": 110001}`, wantErr: true},
		"not a range":        {in: `"110001-110098"`, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var r PinRange
			err := json.Unmarshal([]byte(tt.in), &r)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r)
		})
	}
}

func TestPinRangeContains(t *testing.T) {
	r := PinRange{Start: 110001, End: 110098}
	assert.True(t, r.Contains(110001))
	assert.True(t, r.Contains(110050))
	assert.True(t, r.Contains(110098))
	assert.False(t, r.Contains(110099))
	assert.False(t, r.Contains(110000))
	assert.Equal(t, 98, r.Size())
}

const utsfCamel = `{
  "version": "3.0",
  "meta": {
    "id": "UTSF-100",
    "companyName": "Safexpress",
    "transporterType": "Regular",
    "isVerified": true,
    "approvalStatus": "Approved",
    "integrityMode": "none"
  },
  "zoneOverrides": {"110020": "n2"},
  "pricing": {
    "priceRate": {"minWeight": 20, "kFactor": 4500, "fuel": 20},
    "zoneRates": {"n1": {"s1": 12}}
  },
  "serviceability": {
    "n1": {
      "mode": "full_minus_exceptions",
      "exceptRanges": [[110050, 110060]],
      "exceptSingles": ["110070"],
      "softExclusions": [110071]
    },
    "s1": {
      "mode": "ONLY_SERVED",
      "servedRanges": [{"s": 560001, "e": 560010}],
      "servedSingles": [560060]
    }
  },
  "oda": {"s1": {"odaRanges": [[560005, 560007]], "odaSingles": [560060]}}
}`

const utsfSnake = `{
  "version": "3.0",
  "meta": {
    "id": "UTSF-100",
    "companyName": "Safexpress",
    "transporterType": "Regular",
    "isVerified": true,
    "approvalStatus": "Approved",
    "integrityMode": "none"
  },
  "zoneOverrides": {"110020": "n2"},
  "pricing": {
    "priceRate": {"minWeight": 20, "kFactor": 4500, "fuel": 20},
    "zoneRates": {"n1": {"s1": 12}}
  },
  "serviceability": {
    "n1": {
      "mode": "full_minus_exceptions",
      "except_ranges": [[110050, 110060]],
      "except_singles": ["110070"],
      "soft_exclusions": [110071]
    },
    "s1": {
      "mode": "ONLY_SERVED",
      "served_ranges": [{"s": 560001, "e": 560010}],
      "served_singles": [560060]
    }
  },
  "oda": {"s1": {"oda_ranges": [[560005, 560007]], "oda_singles": [560060]}}
}`

func TestParseUTSFFieldSpellings(t *testing.T) {
	camel, err := ParseUTSF([]byte(utsfCamel))
	require.NoError(t, err)
	snake, err := ParseUTSF([]byte(utsfSnake))
	require.NoError(t, err)

	if diff := cmp.Diff(camel, snake); diff != "" {
		t.Errorf("camelCase and snake_case parses differ (-camel +snake):\n%s", diff)
	}

	n1 := camel.Serviceability["N1"]
	require.NotNil(t, n1)
	assert.Equal(t, ModeFullMinusExceptions, n1.Mode)
	assert.Equal(t, []PinRange{{110050, 110060}}, n1.ExceptRanges)
	assert.Equal(t, []geo.Pincode{110070}, n1.ExceptSingles)
	assert.Equal(t, []geo.Pincode{110071}, n1.SoftExclusions)

	s1 := camel.Serviceability["S1"]
	require.NotNil(t, s1)
	assert.Equal(t, ModeOnlyServed, s1.Mode)
	assert.Equal(t, []PinRange{{560001, 560010}}, s1.ServedRanges)

	oda := camel.ODA["S1"]
	require.NotNil(t, oda)
	assert.Equal(t, []PinRange{{560005, 560007}}, oda.Ranges)
	assert.Equal(t, []geo.Pincode{560060}, oda.Singles)

	assert.Equal(t, "N2", camel.ZoneOverrides[110020])
	assert.Equal(t, "approved", camel.Meta.ApprovalStatus)
	assert.Equal(t, IntegrityNone, camel.Meta.IntegrityMode)
	assert.Equal(t, "regular", camel.Meta.TransporterType)
}

func TestParseUTSFModeDefaults(t *testing.T) {
	tests := map[string]struct {
		rules string
		want  string
	}{
		"missing mode with served list": {
			rules: `{"servedSingles": [110020]}`,
			want:  ModeOnlyServed,
		},
		"missing mode without served list": {
			rules: `{"exceptSingles": [110020]}`,
			want:  ModeNotServed,
		},
		"unknown mode": {
			rules: `{"mode": "EVERYWHERE", "servedSingles": [110020]}`,
			want:  ModeOnlyServed,
		},
		"lowercase mode recognised": {
			rules: `{"mode": "full_zone"}`,
			want:  ModeFullZone,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			doc := `{"meta": {"id": "X"}, "serviceability": {"n1": ` + tt.rules + `}}`
			f, err := ParseUTSF([]byte(doc))
			require.NoError(t, err)
			require.NotNil(t, f.Serviceability["N1"])
			assert.Equal(t, tt.want, f.Serviceability["N1"].Mode)
		})
	}
}

func TestParseUTSFMergesDuplicateZoneKeys(t *testing.T) {
	doc := `{
	  "meta": {"id": "X"},
	  "serviceability": {
	    "n1": {"mode": "ONLY_SERVED", "servedSingles": [110020]},
	    "N1": {"servedSingles": [110021]}
	  }
	}`
	f, err := ParseUTSF([]byte(doc))
	require.NoError(t, err)
	require.Len(t, f.Serviceability, 1)
	n1 := f.Serviceability["N1"]
	require.NotNil(t, n1)
	assert.ElementsMatch(t, []geo.Pincode{110020, 110021}, n1.ServedSingles)
}

func TestParseUTSFErrors(t *testing.T) {
	_, err := ParseUTSF([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedUTSF)

	_, err = ParseUTSF([]byte(`{"meta": {}}`))
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestEncodeUTSFEmitsCamelCase(t *testing.T) {
	f, err := ParseUTSF([]byte(utsfSnake))
	require.NoError(t, err)

	out, err := EncodeUTSF(f)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `"exceptRanges"`)
	assert.Contains(t, s, `"servedRanges"`)
	assert.Contains(t, s, `"odaRanges"`)
	assert.NotContains(t, s, `"except_ranges"`)
	assert.NotContains(t, s, `"served_ranges"`)
	assert.NotContains(t, s, `"oda_ranges"`)
	assert.NotContains(t, s, `"soft_exclusions"`)

	reparsed, err := ParseUTSF(out)
	require.NoError(t, err)
	if diff := cmp.Diff(f, reparsed); diff != "" {
		t.Errorf("round trip changed the document (-orig +reparsed):\n%s", diff)
	}
}

func TestFileApproved(t *testing.T) {
	tests := map[string]struct {
		status string
		want   bool
	}{
		"approved": {status: "approved", want: true},
		"missing":  {status: "", want: true},
		"pending":  {status: "pending", want: false},
		"rejected": {status: "rejected", want: false},
		"draft":    {status: "draft", want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := &File{Meta: Meta{ID: "X", ApprovalStatus: tt.status}}
			assert.Equal(t, tt.want, f.Approved())
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	f, err := ParseUTSF([]byte(utsfCamel))
	require.NoError(t, err)

	once, err := json.Marshal(f)
	require.NoError(t, err)
	f.Normalize()
	twice, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, string(once), string(twice))
}
