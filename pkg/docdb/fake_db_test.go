package docdb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeDB hands out fake collections by name, creating them on first use so
// tests can preload only the collections they care about.
type fakeDB struct {
	collections map[string]*fakeCollection
}

func newFakeDB() *fakeDB {
	return &fakeDB{collections: map[string]*fakeCollection{}}
}

func (f *fakeDB) Collection(name string) Collection {
	col, ok := f.collections[name]
	if !ok {
		col = &fakeCollection{}
		f.collections[name] = col
	}
	return col
}

func (f *fakeDB) col(name string) *fakeCollection {
	f.Collection(name)
	return f.collections[name]
}

type capturedUpdate struct {
	filter any
	update any
	upsert bool
}

// fakeCollection captures the filter documents queries are built with and
// replays canned documents through a fake cursor.
type fakeCollection struct {
	docs    []any
	findErr error
	oneDoc  any
	oneErr  error

	lastFilter  any
	lastOptions []*options.FindOptions
	updates     []capturedUpdate
	deletes     []any
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (Cursor, error) {
	c.lastFilter = filter
	c.lastOptions = opts
	if c.findErr != nil {
		return nil, c.findErr
	}
	return &fakeCursor{docs: c.docs}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) SingleResult {
	c.lastFilter = filter
	return fakeSingleResult{doc: c.oneDoc, err: c.oneErr}
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	upsert := false
	for _, opt := range opts {
		if opt.Upsert != nil {
			upsert = *opt.Upsert
		}
	}
	c.updates = append(c.updates, capturedUpdate{filter: filter, update: update, upsert: upsert})
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.deletes = append(c.deletes, filter)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

// fakeCursor replays docs through BSON so the real struct tags are exercised.
type fakeCursor struct {
	docs []any
	idx  int
}

func (c *fakeCursor) Next(context.Context) bool {
	c.idx++
	return c.idx <= len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	raw, err := bson.Marshal(c.docs[c.idx-1])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(context.Context) error { return nil }

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	raw, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}
