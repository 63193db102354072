package docdb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
)

// Pin decodes a stored pincode that may be a BSON string, int32, int64 or
// double. Legacy documents mix all four.
type Pin struct {
	geo.Pincode
}

func (p *Pin) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		parsed, err := geo.ParsePincode(rv.StringValue())
		if err != nil {
			return err
		}
		p.Pincode = parsed
	case bsontype.Int32:
		p.Pincode = geo.Pincode(rv.Int32())
	case bsontype.Int64:
		p.Pincode = geo.Pincode(rv.Int64())
	case bsontype.Double:
		d := rv.Double()
		if float64(int(d)) != d {
			return fmt.Errorf("pincode %v is not an integer", d)
		}
		p.Pincode = geo.Pincode(int(d))
	case bsontype.Null:
		p.Pincode = 0
	default:
		return fmt.Errorf("pincode has unsupported BSON type %s", t)
	}
	return nil
}

// ServicePin is one entry of a public carrier's service array. Both isODA
// and isOda appear in stored documents.
type ServicePin struct {
	Pincode Pin    `bson:"pincode"`
	Zone    string `bson:"zone,omitempty"`
	IsODA   bool   `bson:"isODA,omitempty"`
	IsOda   bool   `bson:"isOda,omitempty"`
}

func (p ServicePin) ODA() bool {
	return p.IsODA || p.IsOda
}

// TiedUpPin is one entry of a tied-up carrier's serviceability array. A
// missing active flag means active.
type TiedUpPin struct {
	Pincode Pin    `bson:"pincode"`
	Zone    string `bson:"zone,omitempty"`
	State   string `bson:"state,omitempty"`
	City    string `bson:"city,omitempty"`
	IsODA   bool   `bson:"isODA,omitempty"`
	Active  *bool  `bson:"active,omitempty"`
}

func (p TiedUpPin) IsActive() bool {
	return p.Active == nil || *p.Active
}

// PublicCarrierDoc mirrors a transporters document projected to the two
// pincodes of the requested route. Its pricing lives in a separate price
// document.
type PublicCarrierDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `bson:"companyName"`
	ApprovalStatus string             `bson:"approvalStatus,omitempty"`
	IsVerified     bool               `bson:"isVerified,omitempty"`
	Rating         float64            `bson:"rating,omitempty"`
	Service        []ServicePin       `bson:"service,omitempty"`
}

func (d PublicCarrierDoc) CarrierID() string {
	return d.ID.Hex()
}

// CarrierPrices carries a tied-up carrier's embedded pricing.
type CarrierPrices struct {
	PriceRate           carrier.PriceRate           `bson:"priceRate,omitempty"`
	PriceChart          carrier.ZoneRates           `bson:"priceChart,omitempty"`
	InvoiceValueCharges *carrier.InvoiceValueCharge `bson:"invoiceValueCharges,omitempty"`
}

// TiedUpCarrierDoc mirrors a tiedup_transporters document projected to the
// two pincodes of the requested route.
type TiedUpCarrierDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	CustomerID     string             `bson:"customerID,omitempty"`
	Name           string             `bson:"companyName"`
	ApprovalStatus string             `bson:"approvalStatus,omitempty"`
	IsVerified     bool               `bson:"isVerified,omitempty"`
	Active         *bool              `bson:"isActive,omitempty"`
	Serviceability []TiedUpPin        `bson:"serviceability,omitempty"`
	ZoneConfig     map[string]string  `bson:"zoneConfig,omitempty"`
	Prices         *CarrierPrices     `bson:"prices,omitempty"`
}

func (d TiedUpCarrierDoc) CarrierID() string {
	return d.ID.Hex()
}

func (d TiedUpCarrierDoc) IsActive() bool {
	return d.Active == nil || *d.Active
}

// PriceDoc is a transporter_prices document keyed by the public carrier id.
type PriceDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CarrierID string             `bson:"transporterId"`
	PriceRate carrier.PriceRate  `bson:"priceRate"`
	ZoneRates carrier.ZoneRates  `bson:"zoneRates,omitempty"`
}

// CustomerDoc is the owner record looked up per request.
type CustomerDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	CustomerID string             `bson:"customerId,omitempty"`
	Name       string             `bson:"name,omitempty"`
	Subscribed *bool              `bson:"subscribed,omitempty"`
}

// IsSubscribed reports whether quoting is enabled for the owner.
// Subscription gating is currently disabled, every owner quotes.
func (d *CustomerDoc) IsSubscribed() bool {
	return true
}
