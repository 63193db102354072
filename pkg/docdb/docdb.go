// Package docdb is the document-store carrier source. It serves the
// per-request carrier fetches (route-projected), the batch price lookups and
// the persistence hooks the registry writes through.
package docdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shipkaro/freightrate/pkg/utils"
)

// Collection names.
const (
	PublicCarriersCollection = "transporters"
	TiedUpCarriersCollection = "tiedup_transporters"
	CarrierPricesCollection  = "transporter_prices"
	CustomersCollection      = "customers"
	UTSFMirrorCollection     = "utsf_carriers"
)

// queryTimeout caps every single query; a slow store surfaces as a
// per-source failure, never a stuck request.
const queryTimeout = 15 * time.Second

// Cursor is the subset of mongo.Cursor the source iterates with.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// SingleResult is the subset of mongo.SingleResult the source decodes from.
type SingleResult interface {
	Decode(val any) error
}

// Collection is the subset of mongo.Collection the source relies on. The
// real implementation wraps *mongo.Collection; tests provide fakes that
// capture the filter documents.
type Collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (Cursor, error)
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) SingleResult
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Database hands out named collections.
type Database interface {
	Collection(name string) Collection
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d mongoDatabase) Collection(name string) Collection {
	return mongoCollection{col: d.db.Collection(name)}
}

type mongoCollection struct {
	col *mongo.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (Cursor, error) {
	cur, err := c.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) SingleResult {
	return c.col.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.col.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.col.DeleteOne(ctx, filter, opts...)
}

// WrapDatabase adapts a connected *mongo.Database to the narrow Database
// interface.
func WrapDatabase(db *mongo.Database) Database {
	return mongoDatabase{db: db}
}

// Connect dials the document store and pings it with backoff. The returned
// close function disconnects the underlying client.
func Connect(ctx context.Context, logger *slog.Logger, uri, dbName string) (*Source, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to document store: %w", err)
	}

	err = utils.Retry(5, 500*time.Millisecond, 8*time.Second,
		func(error) bool { return ctx.Err() == nil },
		func() error { return client.Ping(ctx, nil) },
	)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("pinging document store: %w", err)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "connected to document store", slog.String("database", dbName))
	return NewSource(logger, WrapDatabase(client.Database(dbName))), client.Disconnect, nil
}
