package databases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/jykim-lab/maestro/pkg/config"
)

const scrollBatchSize = 256

const connectHint = "Qdrant is unreachable. Start Qdrant (gRPC on port 6334 by default) and retry."

// QdrantStore is the vector store adapter over the Qdrant gRPC client. One
// store owns one collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	host       string
	port       int
}

// NewQdrantStoreFromConfig connects a store to the configured Qdrant
// endpoint. The connection is lazy; failures surface on first use.
func NewQdrantStoreFromConfig(cfg *config.QdrantConfig, dimension int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  uint64(dimension),
		host:       cfg.Host,
		port:       cfg.Port,
	}, nil
}

// Collection returns the collection name the store operates on.
func (db *QdrantStore) Collection() string {
	return db.collection
}

// Healthy probes the Qdrant connection.
func (db *QdrantStore) Healthy(ctx context.Context) error {
	if _, err := db.client.ListCollections(ctx); err != nil {
		return &StorageError{Operation: "health check", Hint: connectHint, Err: err}
	}
	return nil
}

// EnsureCollection creates the collection when missing. An existing
// collection with a different vector size is a configuration error, not
// something to silently re-create.
func (db *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := db.client.CollectionExists(ctx, db.collection)
	if err != nil {
		return &StorageError{Operation: "collection check", Hint: connectHint, Err: err}
	}

	if exists {
		info, err := db.client.GetCollectionInfo(ctx, db.collection)
		if err != nil {
			return &StorageError{Operation: "collection info", Hint: connectHint, Err: err}
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != db.dimension {
			return fmt.Errorf("%w: collection %q has size %d, embeddings produce %d",
				ErrDimensionMismatch, db.collection, size, db.dimension)
		}
		return nil
	}

	err = db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: db.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     db.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return &StorageError{Operation: "collection create", Hint: connectHint, Err: err}
	}
	return nil
}

// RecreateCollection drops and recreates the collection.
func (db *QdrantStore) RecreateCollection(ctx context.Context) error {
	if err := db.client.DeleteCollection(ctx, db.collection); err != nil {
		slog.Debug("delete collection before recreate", "collection", db.collection, "error", err)
	}
	err := db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: db.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     db.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return &StorageError{Operation: "collection recreate", Hint: connectHint, Err: err}
	}
	return nil
}

// Count returns the number of points in the collection, 0 on any error.
func (db *QdrantStore) Count(ctx context.Context) int {
	count, err := db.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: db.collection,
	})
	if err != nil {
		return 0
	}
	return int(count)
}

// Upsert writes points into the collection, creating it first if needed.
func (db *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := db.EnsureCollection(ctx); err != nil {
		return err
	}

	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for key, value := range p.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := db.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: db.collection,
		Points:         qp,
	})
	if err != nil {
		return &StorageError{Operation: "upsert", Hint: connectHint, Err: err}
	}
	return nil
}

// Search runs a dense vector search. The filter takes exact-match clauses
// only; string-operator clauses belong to the caller's post-filtering.
func (db *QdrantStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: db.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		searchRequest.Filter = buildQdrantFilter(filter)
	}

	pointsClient := db.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, &StorageError{Operation: "search", Hint: connectHint, Err: err}
	}

	results := make([]SearchResult, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		results = append(results, SearchResult{
			ID:      pointIDString(point.Id),
			Score:   float64(point.Score),
			Payload: payloadToMap(point.Payload),
		})
	}
	return results, nil
}

// ScrollPayloads pages through the collection and returns up to limit
// payloads. Vectors are not fetched; this feeds the BM25 rebuild.
func (db *QdrantStore) ScrollPayloads(ctx context.Context, limit int) ([]PayloadItem, error) {
	pointsClient := db.client.GetPointsClient()

	var out []PayloadItem
	var offset *qdrant.PointId
	for len(out) < limit {
		batch := uint32(scrollBatchSize)
		if remaining := limit - len(out); remaining < scrollBatchSize {
			batch = uint32(remaining)
		}

		resp, err := pointsClient.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: db.collection,
			Limit:          &batch,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, &StorageError{Operation: "scroll", Hint: connectHint, Err: err}
		}

		for _, point := range resp.Result {
			out = append(out, PayloadItem{
				ID:      pointIDString(point.Id),
				Payload: payloadToMap(point.Payload),
			})
		}

		offset = resp.NextPageOffset
		if offset == nil || len(resp.Result) == 0 {
			break
		}
	}
	return out, nil
}

// DeleteByFilter removes all points matching the exact-match filter.
func (db *QdrantStore) DeleteByFilter(ctx context.Context, filter map[string]interface{}) error {
	_, err := db.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: db.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return &StorageError{Operation: "delete by filter", Hint: connectHint, Err: err}
	}
	return nil
}

func (db *QdrantStore) Close() error {
	return db.client.Close()
}

// buildQdrantFilter converts exact-match clauses to a Qdrant filter. A list
// value becomes a match-any condition.
func buildQdrantFilter(filter map[string]interface{}) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		match := buildMatch(value)
		if match == nil {
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: match,
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

func buildMatch(value interface{}) *qdrant.Match {
	switch v := value.(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case float64:
		// JSON numbers decode as float64; only whole values match integers.
		if v == float64(int64(v)) {
			return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		}
		return nil
	case []interface{}:
		keywords := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			keywords = append(keywords, s)
		}
		return &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: keywords},
		}}
	case []string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: v},
		}}
	default:
		return nil
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		out[key] = valueToInterface(value)
	}
	return out
}

func valueToInterface(value *qdrant.Value) interface{} {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = valueToInterface(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		nested := make(map[string]interface{}, len(v.StructValue.Fields))
		for k, item := range v.StructValue.Fields {
			nested[k] = valueToInterface(item)
		}
		return nested
	default:
		return nil
	}
}
