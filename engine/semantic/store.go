// Package semantic stores embedded chunks in Qdrant and serves the scoped
// corpus scans the retriever scores against.
package semantic

import (
	"context"
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ozgurozbekuk/asylumapp/engine/domain"
	"github.com/ozgurozbekuk/asylumapp/engine/retrieval"
)

// DefaultPageSize is the scroll page size used by Find and Each.
const DefaultPageSize = 256

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	pageSize    uint32
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		pageSize:    DefaultPageSize,
	}, nil
}

// NewWithClients creates a VectorStore over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		pageSize:    DefaultPageSize,
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert writes chunks as points. Re-embedding a chunk overwrites its point
// in place because point ids derive from chunk ids.
func (v *VectorStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = toPoint(c)
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(chunks), err)
	}
	return nil
}

// Find returns every chunk eligible under f, with vectors.
func (v *VectorStore) Find(ctx context.Context, f retrieval.ChunkFilter) ([]domain.Chunk, error) {
	if f.Empty() {
		return nil, nil
	}
	var out []domain.Chunk
	err := v.scroll(ctx, buildFilter(f), func(batch []domain.Chunk) error {
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each streams every chunk of a sector, public and private, to fn one page
// at a time.
func (v *VectorStore) Each(ctx context.Context, sector string, fn func([]domain.Chunk) error) error {
	return v.scroll(ctx, &pb.Filter{Must: []*pb.Condition{fieldMatch(keySector, sector)}}, fn)
}

func (v *VectorStore) scroll(ctx context.Context, filter *pb.Filter, fn func([]domain.Chunk) error) error {
	limit := v.pageSize
	var offset *pb.PointId
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    pb.NewWithPayload(true),
			WithVectors:    pb.NewWithVectors(true),
		})
		if err != nil {
			return fmt.Errorf("semantic: scroll %s: %w", v.collection, err)
		}
		points := resp.GetResult()
		if len(points) > 0 {
			batch := make([]domain.Chunk, len(points))
			for i, p := range points {
				batch[i] = fromPoint(p)
			}
			if err := fn(batch); err != nil {
				return err
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(points) == 0 {
			return nil
		}
	}
}

// buildFilter translates a ChunkFilter into a Qdrant filter with the same
// semantics as ChunkFilter.Matches.
func buildFilter(f retrieval.ChunkFilter) *pb.Filter {
	must := []*pb.Condition{fieldMatch(keySector, f.Sector)}
	if f.Source != "" {
		must = append(must, fieldMatch(keySourceKey, strings.ToLower(f.Source)))
	}

	public := &pb.Filter{
		Must:    []*pb.Condition{isEmpty(keyOwner)},
		MustNot: []*pb.Condition{fieldMatch(keySourceKey, strings.ToLower(domain.SourceUserUpload))},
	}
	switch {
	case f.AllowPublic && f.Owner != "":
		must = append(must, nested(&pb.Filter{
			Should: []*pb.Condition{nested(public), fieldMatch(keyOwner, f.Owner)},
		}))
	case f.AllowPublic:
		must = append(must, nested(public))
	default:
		must = append(must, fieldMatch(keyOwner, f.Owner))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func isEmpty(key string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_IsEmpty{IsEmpty: &pb.IsEmptyCondition{Key: key}},
	}
}

func nested(f *pb.Filter) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Filter{Filter: f}}
}
