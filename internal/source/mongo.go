package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/logger"
)

const defaultMongoTimeout = 30 * time.Second

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
	Logger   logger.Logger
}

// MongoStore lists legacy documents ordered by _id. The continuation cursor
// encodes the last _id returned, so pages stay stable while the run reads.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  logger.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMongoTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Newf("connect to source store: %w", err).
			Component("source").
			Category(errors.CategoryExtraction).
			NetworkContext(cfg.URI, cfg.Timeout).
			Build()
	}

	store := &MongoStore{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}

	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}

	store.logger.Info("connected to source store", logger.String("database", cfg.Database))
	return store, nil
}

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.Newf("ping source store: %w", err).
			Component("source").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context, collection string, filter Filter, cursor string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		return Page{}, errors.Newf("page size must be positive, got %d", pageSize).
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}

	query, err := pageQuery(filter, cursor)
	if err != nil {
		return Page{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(pageSize + 1))

	cur, err := s.db.Collection(collection).Find(ctx, query, findOpts)
	if err != nil {
		return Page{}, s.queryError(err, collection, "find", start)
	}

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return Page{}, s.queryError(err, collection, "decode", start)
	}

	hasMore := len(raw) > pageSize
	if hasMore {
		raw = raw[:pageSize]
	}

	page := Page{Documents: make([]Document, 0, len(raw)), Done: !hasMore}
	for _, doc := range raw {
		page.Documents = append(page.Documents, Document(normalizeMap(doc)))
	}

	if hasMore {
		page.Cursor, err = encodeMongoCursor(raw[len(raw)-1]["_id"])
		if err != nil {
			return Page{}, err
		}
	}

	s.logger.Trace("source page fetched",
		logger.String("collection", collection),
		logger.Int("documents", len(page.Documents)),
		logger.Bool("done", page.Done),
		logger.Duration("elapsed", time.Since(start)))

	return page, nil
}

// Count implements Store.
func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.db.Collection(collection).CountDocuments(ctx, bsonFilter(filter))
	if err != nil {
		return 0, s.queryError(err, collection, "count", start)
	}
	return n, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Newf("disconnect source store: %w", err).
			Component("source").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

func (s *MongoStore) queryError(err error, collection, operation string, start time.Time) error {
	return errors.Newf("%s %s: %w", operation, collection, err).
		Component("source").
		Category(errors.CategoryExtraction).
		Context("collection", collection).
		Timing(operation, time.Since(start)).
		Build()
}

func bsonFilter(filter Filter) bson.M {
	if len(filter) == 0 {
		return bson.M{}
	}
	return bson.M(filter)
}

// pageQuery combines the caller's filter with the cursor position.
func pageQuery(filter Filter, cursor string) (bson.M, error) {
	base := bsonFilter(filter)
	if cursor == "" {
		return base, nil
	}

	lastID, err := decodeMongoCursor(cursor)
	if err != nil {
		return nil, err
	}

	after := bson.M{"_id": bson.M{"$gt": lastID}}
	if len(base) == 0 {
		return after, nil
	}
	return bson.M{"$and": bson.A{base, after}}, nil
}

// encodeMongoCursor stores the last _id as canonical extended JSON so that
// ObjectIDs and string IDs round-trip with their type intact.
func encodeMongoCursor(lastID any) (string, error) {
	data, err := bson.MarshalExtJSON(bson.M{"_id": lastID}, true, false)
	if err != nil {
		return "", errors.Newf("encode cursor: %w", err).
			Component("source").
			Category(errors.CategoryExtraction).
			Build()
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeMongoCursor(cursor string) (any, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, invalidCursor(err)
	}

	var pos bson.M
	if err := bson.UnmarshalExtJSON(data, true, &pos); err != nil {
		return nil, invalidCursor(err)
	}

	id, ok := pos["_id"]
	if !ok {
		return nil, invalidCursor(fmt.Errorf("missing _id"))
	}
	return id, nil
}

func invalidCursor(err error) error {
	return errors.Newf("invalid cursor: %w", err).
		Component("source").
		Category(errors.CategoryValidation).
		Build()
}

// normalizeMap converts driver types into plain Go values.
func normalizeMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(bson.M(t))
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Decimal128:
		return t.String()
	case int32:
		return int64(t)
	default:
		return v
	}
}
