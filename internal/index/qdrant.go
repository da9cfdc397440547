package index

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant is an Index backed by a Qdrant collection over gRPC. The collection
// uses cosine similarity; Query converts similarity scores to distances so
// the contract stays ascending-by-distance.
//
// Note: Qdrant does not expose upsert recency, so equal-distance ordering is
// server-defined here. Use Memory where deterministic ties matter (tests).
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrant connects to Qdrant at the given gRPC address and ensures the
// collection exists with the given vector dimension.
func NewQdrant(ctx context.Context, addr, collection string, dims int) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant %s: %w", addr, err)
	}

	q := &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := q.ensureCollection(ctx, dims); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
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
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert stores or replaces the vector for id
func (q *Qdrant) Upsert(ctx context.Context, id string, vector []float32, tags map[string]string) error {
	payload := make(map[string]*pb.Value, len(tags))
	for k, v := range tags {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: id},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s: %w", id, err)
	}
	return nil
}

// Delete removes the point for id
func (q *Qdrant) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{
						PointIdOptions: &pb.PointId_Uuid{Uuid: id},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting point %s: %w", id, err)
	}
	return nil
}

// Query returns up to k nearest neighbors matching tagFilter
func (q *Qdrant) Query(ctx context.Context, vector []float32, k int, tagFilter map[string]string) ([]Neighbor, error) {
	if k <= 0 {
		return []Neighbor{}, nil
	}

	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
	}
	if len(tagFilter) > 0 {
		must := make([]*pb.Condition, 0, len(tagFilter))
		for key, val := range tagFilter {
			must = append(must, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: key,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: val},
						},
					},
				},
			})
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	neighbors := make([]Neighbor, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		neighbors[i] = Neighbor{
			ID:       r.GetId().GetUuid(),
			Distance: 1 - r.GetScore(),
		}
	}
	return neighbors, nil
}

// Close closes the underlying gRPC connection
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
