package docdb

import (
	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
)

// File converts a tied-up carrier document into UTSF form. Serviceability
// entries become per-zone ONLY_SERVED singles; inactive entries are dropped
// here so they never reach a lookup index.
func (d *TiedUpCarrierDoc) File() *carrier.File {
	f := &carrier.File{
		Meta: carrier.Meta{
			ID:             d.CarrierID(),
			CompanyName:    d.Name,
			CustomerID:     d.CustomerID,
			IsVerified:     d.IsVerified,
			ApprovalStatus: d.ApprovalStatus,
		},
		Serviceability: make(map[string]*carrier.ZoneRules),
		ODA:            make(map[string]*carrier.ODARules),
	}

	for _, entry := range d.Serviceability {
		if !entry.IsActive() {
			continue
		}
		addServicedPin(f, entry.Zone, entry.Pincode.Pincode, entry.IsODA)
	}

	if len(d.ZoneConfig) > 0 {
		f.ZoneOverrides = make(map[geo.Pincode]string, len(d.ZoneConfig))
		for raw, zone := range d.ZoneConfig {
			pin, err := geo.ParsePincode(raw)
			if err != nil {
				continue
			}
			f.ZoneOverrides[pin] = zone
		}
	}

	if d.Prices != nil {
		f.Pricing = carrier.Pricing{
			PriceRate: d.Prices.PriceRate,
			ZoneRates: d.Prices.PriceChart,
		}
		if d.Prices.InvoiceValueCharges != nil {
			f.Pricing.PriceRate.InvoiceValue = *d.Prices.InvoiceValueCharges
		}
	}

	f.Normalize()
	return f
}

// File converts a public carrier document plus its price document into UTSF
// form.
func (d *PublicCarrierDoc) File(price *PriceDoc) *carrier.File {
	f := &carrier.File{
		Meta: carrier.Meta{
			ID:             d.CarrierID(),
			CompanyName:    d.Name,
			Rating:         d.Rating,
			IsVerified:     d.IsVerified,
			ApprovalStatus: d.ApprovalStatus,
		},
		Serviceability: make(map[string]*carrier.ZoneRules),
		ODA:            make(map[string]*carrier.ODARules),
	}

	for _, entry := range d.Service {
		addServicedPin(f, entry.Zone, entry.Pincode.Pincode, entry.ODA())
	}

	if price != nil {
		f.Pricing = carrier.Pricing{
			PriceRate: price.PriceRate,
			ZoneRates: price.ZoneRates,
		}
	}

	f.Normalize()
	return f
}

// addServicedPin records one serviceable pincode under its zone. Entries
// without a zone cannot be priced and are dropped.
func addServicedPin(f *carrier.File, zone string, pin geo.Pincode, isODA bool) {
	z := geo.NormalizeZone(zone)
	if z == "" || pin <= 0 {
		return
	}
	rules := f.Serviceability[z]
	if rules == nil {
		rules = &carrier.ZoneRules{Mode: carrier.ModeOnlyServed}
		f.Serviceability[z] = rules
	}
	rules.ServedSingles = append(rules.ServedSingles, pin)

	if isODA {
		oda := f.ODA[z]
		if oda == nil {
			oda = &carrier.ODARules{}
			f.ODA[z] = oda
		}
		oda.Singles = append(oda.Singles, pin)
	}
}
