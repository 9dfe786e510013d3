package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/tenant"
)

// NamespaceRequest selects an index
type NamespaceRequest struct {
	Namespace string `json:"namespace"`
}

// CreateIndexRequest is the CreateIndex request
type CreateIndexRequest struct {
	Namespace string `json:"namespace"`
	api.CreateIndexRequest
}

// InsertBatchRequest is the InsertBatch request
type InsertBatchRequest struct {
	Namespace string `json:"namespace"`
	api.InsertRequest
}

// QueryRequest is the Query request
type QueryRequest struct {
	Namespace string `json:"namespace"`
	api.QueryRequest
}

// SaveRequest is the Save request
type SaveRequest struct {
	Namespace string `json:"namespace"`
	api.PersistRequest
}

// LoadRequest is the Load request
type LoadRequest struct {
	Namespace string `json:"namespace"`
	api.LoadRequest
}

// StatsResponse answers Stats calls without a namespace
type StatsResponse struct {
	Indexes []tenant.Stats `json:"indexes"`
}

// handler adapts api.Service to IndexServiceServer
type handler struct {
	service *api.Service
}

func (h *handler) CreateIndex(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateIndexRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return respond(h.service.CreateIndex(ctx, req.Namespace, req.CreateIndexRequest))
}

func (h *handler) DeleteIndex(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req NamespaceRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if err := h.service.DeleteIndex(ctx, req.Namespace); err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]string{"namespace": req.Namespace, "status": "deleted"}, nil)
}

func (h *handler) InsertBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req InsertBatchRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return respond(h.service.Insert(ctx, req.Namespace, req.InsertRequest))
}

func (h *handler) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req QueryRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return respond(h.service.Query(ctx, req.Namespace, req.QueryRequest))
}

func (h *handler) Save(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SaveRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return respond(h.service.Save(ctx, req.Namespace, req.PersistRequest))
}

func (h *handler) Load(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LoadRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return respond(h.service.Load(ctx, req.Namespace, req.LoadRequest))
}

// Stats describes one index, or every visible index when no namespace is set
func (h *handler) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req NamespaceRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	if req.Namespace == "" {
		return respond(StatsResponse{Indexes: h.service.ListIndexes(ctx)}, nil)
	}
	return respond(h.service.GetIndex(ctx, req.Namespace))
}

func decodeRequest(in *structpb.Struct, v interface{}) error {
	if err := DecodeStruct(in, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func respond(resp interface{}, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := EncodeStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	return status.Error(api.Code(err), err.Error())
}
