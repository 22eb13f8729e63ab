package searchd

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

// SearchServiceName is the fully qualified gRPC service name
const SearchServiceName = "quanthpo.v1.SearchService"

// SearchServiceServer is the gRPC search API. Requests and responses are
// google.protobuf.Struct messages carrying the same fields as the HTTP API.
type SearchServiceServer interface {
	GetSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSearches(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(SearchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SearchServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + SearchServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SearchServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SearchServiceDesc describes SearchServiceServer to grpc.Server
var SearchServiceDesc = grpc.ServiceDesc{
	ServiceName: SearchServiceName,
	HandlerType: (*SearchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSearch", Handler: unaryHandler("GetSearch", SearchServiceServer.GetSearch)},
		{MethodName: "ListSearches", Handler: unaryHandler("ListSearches", SearchServiceServer.ListSearches)},
		{MethodName: "StopSearch", Handler: unaryHandler("StopSearch", SearchServiceServer.StopSearch)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quanthpo/v1/search.proto",
}

// RegisterServices registers the search service and a health service reporting it as serving
func RegisterServices(s *grpc.Server, srv SearchServiceServer) *health.Server {
	s.RegisterService(&SearchServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(SearchServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// SearchGRPCServer implements SearchServiceServer using a RunStore backend.
type SearchGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

func NewSearchGRPCServer(store *RunStore, executor *RunExecutor) *SearchGRPCServer {
	return &SearchGRPCServer{
		store:    store,
		Executor: executor,
	}
}

// GetSearch takes {"id": ...} and returns {"search": {...}, "trials": [...]}
func (s *SearchGRPCServer) GetSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, status.Error(codes.NotFound, "search not found")
	}
	return toStruct(map[string]any{
		"search": recordView(rec),
		"trials": trialsView(rec.Trials),
	})
}

// ListSearches takes optional {"limit": n, "status": "..."}
func (s *SearchGRPCServer) ListSearches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := 50
	if v, ok := req.GetFields()["limit"]; ok && v.GetNumberValue() > 0 {
		limit = int(v.GetNumberValue())
	}
	var st Status
	if name := stringField(req, "status"); name != "" {
		if st = ParseStatus(name); st == "" {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status %s", name)
		}
	}
	recs := s.store.List(limit, st)
	searches := make([]any, 0, len(recs))
	for _, rec := range recs {
		searches = append(searches, recordView(rec))
	}
	return toStruct(map[string]any{"searches": searches})
}

// StopSearch takes {"id": ...} and returns the cancelled search
func (s *SearchGRPCServer) StopSearch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	updated, err := s.Executor.Stop(id)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			return nil, status.Error(codes.NotFound, err.Error())
		case errors.Is(err, ErrRunTerminal):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	logger.Info("search cancelled (gRPC)", "search_id", id)
	return toStruct(map[string]any{"search": recordView(updated)})
}

func stringField(s *structpb.Struct, name string) string {
	if v, ok := s.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// SearchServiceClient calls SearchService over a connection
type SearchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSearchServiceClient(cc grpc.ClientConnInterface) *SearchServiceClient {
	return &SearchServiceClient{cc: cc}
}

func (c *SearchServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+SearchServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SearchServiceClient) GetSearch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSearch", in, opts...)
}

func (c *SearchServiceClient) ListSearches(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListSearches", in, opts...)
}

func (c *SearchServiceClient) StopSearch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StopSearch", in, opts...)
}
