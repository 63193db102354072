package config

import (
	"flag"
	"testing"
)

func TestStringSliceFlag_Set(t *testing.T) {
	tests := map[string]struct {
		args []string
		exp  int
	}{
		"empty": {
			args: []string{},
			exp:  0,
		},
		"single": {
			args: []string{"-vendor", "wheelseye"},
			exp:  1,
		},
		"repeated": {
			args: []string{"-vendor", "wheelseye", "-vendor", "local ftl"},
			exp:  2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var ssf StringSliceFlag
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.Var(&ssf, "vendor", "test")
			if err := fs.Parse(test.args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exp, got := test.exp, len(ssf); exp != got {
				t.Fatalf("expected %d, got %d", exp, got)
			}
		})
	}
}

func TestStringSliceFlag_String(t *testing.T) {
	tests := map[string]struct {
		values []string
		exp    string
	}{
		"empty": {
			values: []string{},
			exp:    "",
		},
		"single": {
			values: []string{"wheelseye"},
			exp:    "wheelseye",
		},
		"multiple": {
			values: []string{"wheelseye", "ftl transporter"},
			exp:    "wheelseye,ftl transporter",
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var ssf StringSliceFlag
			for _, v := range test.values {
				if err := ssf.Set(v); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if exp, got := test.exp, ssf.String(); exp != got {
				t.Fatalf("expected %q, got %q", exp, got)
			}
		})
	}
}
