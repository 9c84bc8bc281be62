package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"strategylab/internal/domain"
	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/util"
)

// CodecName is the gRPC content subtype the Backtest service speaks. Clients
// select it with grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "strategylab.Backtest"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages as JSON so the service shares its message
// types with the HTTP API.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// JobRequest names a job.
type JobRequest struct {
	ID string `json:"id"`
}

// DeleteResponse acknowledges a deletion.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// BacktestServer is the gRPC service interface.
type BacktestServer interface {
	Submit(context.Context, *scenario.Request) (*SubmitResponse, error)
	Get(context.Context, *JobRequest) (*jobs.Job, error)
	Delete(context.Context, *JobRequest) (*DeleteResponse, error)
}

// GRPCService implements BacktestServer over the orchestrator and job store.
type GRPCService struct {
	orch *scenario.Orchestrator
	jobs *jobs.Store
	log  *slog.Logger
}

var _ BacktestServer = (*GRPCService)(nil)

// NewGRPCService creates a GRPCService.
func NewGRPCService(orch *scenario.Orchestrator, js *jobs.Store, log *slog.Logger) *GRPCService {
	if log == nil {
		log = util.Discard()
	}
	return &GRPCService{orch: orch, jobs: js, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (g *GRPCService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtestServiceDesc, g)
}

// Submit starts an asynchronous scenario run.
func (g *GRPCService) Submit(_ context.Context, req *scenario.Request) (*SubmitResponse, error) {
	id, err := g.orch.Submit(*req)
	if err != nil {
		return nil, grpcError(err)
	}
	g.log.Info("backtest submitted", "id", id, "kind", req.Kind)
	return &SubmitResponse{ID: id}, nil
}

// Get returns the job with its result once finished.
func (g *GRPCService) Get(_ context.Context, req *JobRequest) (*jobs.Job, error) {
	job, err := g.jobs.Get(req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &job, nil
}

// Delete cancels and removes a job.
func (g *GRPCService) Delete(_ context.Context, req *JobRequest) (*DeleteResponse, error) {
	if err := g.jobs.Delete(req.ID); err != nil {
		return nil, grpcError(err)
	}
	return &DeleteResponse{Deleted: true}, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, jobs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrBacktest), errors.Is(err, domain.ErrDataUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

func unaryHandler[Req any, Resp any](call func(BacktestServer, context.Context, *Req) (*Resp, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*Req))
		})
	}
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(BacktestServer.Submit, "Submit")},
		{MethodName: "Get", Handler: unaryHandler(BacktestServer.Get, "Get")},
		{MethodName: "Delete", Handler: unaryHandler(BacktestServer.Delete, "Delete")},
	},
	Metadata: "strategylab/backtest",
}

// BacktestClient calls the Backtest service over conn using the JSON codec.
type BacktestClient struct {
	conn grpc.ClientConnInterface
}

// NewBacktestClient creates a BacktestClient.
func NewBacktestClient(conn grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{conn: conn}
}

func (c *BacktestClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

// Submit starts a run and returns its job ID.
func (c *BacktestClient) Submit(ctx context.Context, req *scenario.Request) (string, error) {
	var out SubmitResponse
	if err := c.invoke(ctx, "Submit", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Get fetches a job.
func (c *BacktestClient) Get(ctx context.Context, id string) (*jobs.Job, error) {
	var out jobs.Job
	if err := c.invoke(ctx, "Get", &JobRequest{ID: id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a job.
func (c *BacktestClient) Delete(ctx context.Context, id string) error {
	return c.invoke(ctx, "Delete", &JobRequest{ID: id}, &DeleteResponse{})
}
