// Usage: go run utsf-lint.go -dir data/carriers [-pincode-file data/pincode_master.json] [-write]
// Checks that every UTSF carrier file in a directory parses, flags rate
// chart zones missing from the master catalog, and with -write rewrites
// each file in the canonical form the registry emits.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
)

type Config struct {
	Dir         string
	PincodeFile string
	Write       bool
}

func main() {
	var config Config
	flag.StringVar(&config.Dir, "dir", "data/carriers", "Directory of UTSF carrier files")
	flag.StringVar(&config.PincodeFile, "pincode-file", "", "Master pincode catalog; enables the unknown-zone check")
	flag.BoolVar(&config.Write, "write", false, "Rewrite files in canonical form")
	flag.Parse()
	if err := run(&config); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func run(config *Config) error {
	known := map[string]struct{}{}
	if config.PincodeFile != "" {
		zones, err := geo.ZoneIndexFromFile(config.PincodeFile)
		if err != nil {
			return err
		}
		for _, z := range zones.Zones() {
			known[z] = struct{}{}
		}
	}

	paths, err := filepath.Glob(filepath.Join(config.Dir, "*.utsf.json"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no .utsf.json files under %s", config.Dir)
	}

	bad := 0
	for _, path := range paths {
		base := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := carrier.ParseUTSF(data)
		if err != nil {
			bad++
			log.Printf("%s: %v", base, err)
			continue
		}

		if len(known) > 0 {
			var unknown []string
			for zone := range f.Serviceability {
				if _, ok := known[zone]; !ok {
					unknown = append(unknown, zone)
				}
			}
			if len(unknown) > 0 {
				sort.Strings(unknown)
				log.Printf("%s: zones not in master catalog: %s", base, strings.Join(unknown, ","))
			}
		}

		fmt.Printf("%-44s %-32s zones=%d verified=%t approved=%t\n",
			base, f.Meta.CompanyName, len(f.Serviceability), f.Meta.IsVerified, f.Approved())

		if config.Write {
			out, err := carrier.EncodeUTSF(f)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return err
			}
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files failed to parse", bad, len(paths))
	}
	return nil
}
