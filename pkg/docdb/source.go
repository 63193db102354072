package docdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
)

// excludedNamePattern drops the test fixtures that leak into production
// collections. Matched case-insensitively against companyName.
const excludedNamePattern = `test|dummy|demo`

// Source runs the carrier queries against the document store. All reads are
// bounded by queryTimeout; documents that fail to decode are logged and
// skipped, never fatal.
type Source struct {
	logger *slog.Logger
	db     Database
}

func NewSource(logger *slog.Logger, db Database) *Source {
	return &Source{
		logger: logger.With("subsystem", "docdb"),
		db:     db,
	}
}

// pinForms returns the stored representations of a pincode. Legacy documents
// carry pincodes as numbers and as strings; queries must match both.
func pinForms(pins ...geo.Pincode) bson.A {
	forms := make(bson.A, 0, 2*len(pins))
	for _, p := range pins {
		forms = append(forms, int(p), p.String())
	}
	return forms
}

func approvedOrLegacy() bson.A {
	return bson.A{
		bson.M{"approvalStatus": carrier.ApprovalApproved},
		bson.M{"approvalStatus": bson.M{"$exists": false}},
	}
}

func excludeTestNames() bson.M {
	return bson.M{"$not": primitive.Regex{Pattern: excludedNamePattern, Options: "i"}}
}

// serveBoth requires the named array to cover both endpoints of the route.
func serveBoth(field string, origin, dest geo.Pincode) bson.A {
	return bson.A{
		bson.M{field: bson.M{"$elemMatch": bson.M{"pincode": bson.M{"$in": pinForms(origin)}}}},
		bson.M{field: bson.M{"$elemMatch": bson.M{"pincode": bson.M{"$in": pinForms(dest)}}}},
	}
}

// projectRoute keeps only the two pincode entries of the named array. The
// $filter runs server-side so a carrier with tens of thousands of
// serviceability entries still transfers two.
func projectRoute(field string, origin, dest geo.Pincode) bson.M {
	return bson.M{"$filter": bson.M{
		"input": "$" + field,
		"as":    "entry",
		"cond":  bson.M{"$in": bson.A{"$$entry.pincode", pinForms(origin, dest)}},
	}}
}

// PublicCarriersForRoute returns every public carrier that covers both
// endpoints, with its service array projected down to those two entries.
// Pricing is not included; fetch it with PricesForCarriers.
func (s *Source) PublicCarriersForRoute(ctx context.Context, origin, dest geo.Pincode) ([]PublicCarrierDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"companyName": excludeTestNames(),
		"$or":         approvedOrLegacy(),
		"$and":        serveBoth("service", origin, dest),
	}
	projection := bson.M{
		"companyName":    1,
		"approvalStatus": 1,
		"isVerified":     1,
		"rating":         1,
		"service":        projectRoute("service", origin, dest),
	}

	cur, err := s.db.Collection(PublicCarriersCollection).Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("querying public carriers: %w", err)
	}
	return decodeAll[PublicCarrierDoc](ctx, s.logger, cur, PublicCarriersCollection)
}

// TiedUpCarriersForRoute returns the owner's tied-up carriers covering both
// endpoints, serviceability projected to the two entries. Pricing is embedded
// in the document and survives the projection.
func (s *Source) TiedUpCarriersForRoute(ctx context.Context, ownerID string, origin, dest geo.Pincode) ([]TiedUpCarrierDoc, error) {
	if ownerID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"customerID":  ownerID,
		"companyName": excludeTestNames(),
		"$or":         approvedOrLegacy(),
		"$and":        serveBoth("serviceability", origin, dest),
	}
	projection := bson.M{
		"customerID":     1,
		"companyName":    1,
		"approvalStatus": 1,
		"isVerified":     1,
		"isActive":       1,
		"zoneConfig":     1,
		"prices":         1,
		"serviceability": projectRoute("serviceability", origin, dest),
	}

	cur, err := s.db.Collection(TiedUpCarriersCollection).Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("querying tied-up carriers: %w", err)
	}
	return decodeAll[TiedUpCarrierDoc](ctx, s.logger, cur, TiedUpCarriersCollection)
}

// TiedUpCarriers returns the owner's tied-up carriers with their full
// serviceability arrays. Used by the nearest-pincode search, which needs the
// whole coverage set rather than a route slice.
func (s *Source) TiedUpCarriers(ctx context.Context, ownerID string) ([]TiedUpCarrierDoc, error) {
	if ownerID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"customerID":  ownerID,
		"companyName": excludeTestNames(),
		"$or":         approvedOrLegacy(),
	}
	cur, err := s.db.Collection(TiedUpCarriersCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("querying tied-up carriers: %w", err)
	}
	return decodeAll[TiedUpCarrierDoc](ctx, s.logger, cur, TiedUpCarriersCollection)
}

// PricesForCarriers batch-fetches the price documents for the given public
// carrier ids in one $in query, keyed by carrier id.
func (s *Source) PricesForCarriers(ctx context.Context, ids []string) (map[string]PriceDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cur, err := s.db.Collection(CarrierPricesCollection).Find(ctx, bson.M{"transporterId": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("querying carrier prices: %w", err)
	}
	docs, err := decodeAll[PriceDoc](ctx, s.logger, cur, CarrierPricesCollection)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]PriceDoc, len(docs))
	for _, doc := range docs {
		prices[doc.CarrierID] = doc
	}
	return prices, nil
}

// Customer looks up the owner record. A missing customer is (nil, nil), not
// an error; quoting proceeds without one.
func (s *Source) Customer(ctx context.Context, customerID string) (*CustomerDoc, error) {
	if customerID == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc CustomerDoc
	err := s.db.Collection(CustomersCollection).FindOne(ctx, bson.M{"customerId": customerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer %s: %w", customerID, err)
	}
	return &doc, nil
}

// CarrierFiles converts every stored carrier into UTSF form for the registry
// boot top-up: tied-up carriers with their embedded pricing, public carriers
// joined with their price documents. Public carriers without a price document
// are skipped; they could never quote.
func (s *Source) CarrierFiles(ctx context.Context) ([]*carrier.File, error) {
	var files []*carrier.File

	tiedCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	cur, err := s.db.Collection(TiedUpCarriersCollection).Find(tiedCtx, bson.M{"$or": approvedOrLegacy()})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("querying tied-up carriers: %w", err)
	}
	tiedUp, err := decodeAll[TiedUpCarrierDoc](tiedCtx, s.logger, cur, TiedUpCarriersCollection)
	cancel()
	if err != nil {
		return nil, err
	}
	for i := range tiedUp {
		files = append(files, tiedUp[i].File())
	}

	pubCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	cur, err = s.db.Collection(PublicCarriersCollection).Find(pubCtx, bson.M{
		"companyName": excludeTestNames(),
		"$or":         approvedOrLegacy(),
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("querying public carriers: %w", err)
	}
	public, err := decodeAll[PublicCarrierDoc](pubCtx, s.logger, cur, PublicCarriersCollection)
	cancel()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(public))
	for i := range public {
		ids = append(ids, public[i].CarrierID())
	}
	prices, err := s.PricesForCarriers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range public {
		price, ok := prices[public[i].CarrierID()]
		if !ok {
			s.logger.LogAttrs(ctx, slog.LevelDebug, "public carrier has no price document, skipping",
				slog.String("carrier", public[i].Name))
			continue
		}
		files = append(files, public[i].File(&price))
	}
	return files, nil
}

// UpsertCarrierDoc mirrors a UTSF file into the document store, keyed by the
// carrier id. Keys keep their on-disk camelCase spelling.
func (s *Source) UpsertCarrierDoc(ctx context.Context, f *carrier.File) error {
	data, err := carrier.EncodeUTSF(f)
	if err != nil {
		return fmt.Errorf("encoding carrier %s: %w", f.Meta.ID, err)
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return fmt.Errorf("converting carrier %s: %w", f.Meta.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err = s.db.Collection(UTSFMirrorCollection).UpdateOne(ctx,
		bson.M{"meta.id": f.Meta.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting carrier %s: %w", f.Meta.ID, err)
	}
	return nil
}

// DeleteCarrierDoc removes the mirror document for a carrier id.
func (s *Source) DeleteCarrierDoc(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.Collection(UTSFMirrorCollection).DeleteOne(ctx, bson.M{"meta.id": id})
	if err != nil {
		return fmt.Errorf("deleting carrier %s: %w", id, err)
	}
	return nil
}

// decodeAll drains a cursor, skipping documents that fail to decode.
func decodeAll[T any](ctx context.Context, logger *slog.Logger, cur Cursor, collection string) ([]T, error) {
	defer cur.Close(ctx)

	var out []T
	for cur.Next(ctx) {
		var doc T
		if err := cur.Decode(&doc); err != nil {
			logger.LogAttrs(ctx, slog.LevelWarn, "skipping undecodable document",
				slog.String("collection", collection),
				slog.String("err", err.Error()))
			continue
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return out, fmt.Errorf("iterating %s: %w", collection, err)
	}
	return out, nil
}
