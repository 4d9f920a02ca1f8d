package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"varengine/internal/engine"
	"varengine/internal/gather"
	"varengine/internal/httpapi"
	"varengine/internal/risk"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "varengine.v1.RiskService"

const (
	compareMethod  = "/" + ServiceName + "/Compare"
	simulateMethod = "/" + ServiceName + "/Simulate"
)

// RiskServiceServer is the server API of the risk service. Requests and
// responses are google.protobuf.Struct messages carrying the same fields as
// the HTTP API: request keys match the query parameters and responses match
// the JSON bodies.
type RiskServiceServer interface {
	Compare(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RiskService implements RiskServiceServer on top of the engine.
type RiskService struct {
	runner httpapi.Runner
	policy engine.RequestPolicy
	now    func() time.Time
}

// Compile-time interface check.
var _ RiskServiceServer = (*RiskService)(nil)

// NewRiskService creates a RiskService. policy supplies the default start
// window and the request size limits.
func NewRiskService(runner httpapi.Runner, policy engine.RequestPolicy) *RiskService {
	return &RiskService{runner: runner, policy: policy, now: time.Now}
}

// Compare runs the three-method comparison.
func (s *RiskService) Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.request(in)
	if err != nil {
		return nil, statusError(err)
	}
	rep, err := s.runner.Compare(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(httpapi.CompareResponse(rep))
}

// Simulate runs a GBM simulation. The optional "sample" field asks for raw
// paths.
func (s *RiskService) Simulate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.request(in)
	if err != nil {
		return nil, statusError(err)
	}
	sample := 0
	if v, ok := in.GetFields()["sample"]; ok {
		sample = min(max(int(v.GetNumberValue()), 0), 100)
	}
	rep, err := s.runner.Simulate(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(httpapi.SimulateResponse(rep, sample))
}

func (s *RiskService) request(in *structpb.Struct) (engine.Request, error) {
	params, err := structParams(in)
	if err != nil {
		return engine.Request{}, err
	}
	return engine.ParseRequest(params, s.policy, s.now())
}

// structParams flattens a request struct into string parameters. Numbers
// are formatted without exponent; lists become repeated values. Seeds above
// 2^53 must be sent as strings.
func structParams(in *structpb.Struct) (map[string][]string, error) {
	out := make(map[string][]string, len(in.GetFields()))
	var add func(k string, v *structpb.Value) error
	add = func(k string, v *structpb.Value) error {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[k] = append(out[k], kind.StringValue)
		case *structpb.Value_NumberValue:
			out[k] = append(out[k], strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
		case *structpb.Value_BoolValue:
			out[k] = append(out[k], strconv.FormatBool(kind.BoolValue))
		case *structpb.Value_ListValue:
			for _, item := range kind.ListValue.GetValues() {
				if err := add(k, item); err != nil {
					return err
				}
			}
		case *structpb.Value_NullValue:
		default:
			return fmt.Errorf("%w: field %q has unsupported type", risk.ErrInvalidParameter, k)
		}
		return nil
	}
	for k, v := range in.GetFields() {
		if err := add(k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toStruct converts a JSON-tagged response into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// CodeFor maps a run error to a gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, risk.ErrInvalidParameter):
		return codes.InvalidArgument
	case errors.Is(err, risk.ErrInsufficientData), errors.Is(err, risk.ErrDegenerateInput):
		return codes.FailedPrecondition
	case errors.Is(err, gather.ErrFetch):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func statusError(err error) error {
	return status.Error(CodeFor(err), err.Error())
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

func compareHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RiskServiceServer).Compare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compareMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RiskServiceServer).Compare(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func simulateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RiskServiceServer).Simulate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: simulateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RiskServiceServer).Simulate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RiskServiceDesc describes the risk service for grpc.Server.RegisterService.
var RiskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RiskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compare", Handler: compareHandler},
		{MethodName: "Simulate", Handler: simulateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "varengine/v1/risk.proto",
}

// RegisterRiskService registers srv on s.
func RegisterRiskService(s grpc.ServiceRegistrar, srv RiskServiceServer) {
	s.RegisterService(&RiskServiceDesc, srv)
}

// RiskClient calls the risk service over a client connection.
type RiskClient struct {
	cc grpc.ClientConnInterface
}

// NewRiskClient creates a RiskClient.
func NewRiskClient(cc grpc.ClientConnInterface) *RiskClient {
	return &RiskClient{cc: cc}
}

// Compare calls RiskService/Compare.
func (c *RiskClient) Compare(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, compareMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Simulate calls RiskService/Simulate.
func (c *RiskClient) Simulate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, simulateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Interceptors
// ---------------------------------------------------------------------------

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			st, _ := status.FromError(err)
			log.Warn("grpc call failed", "method", info.FullMethod, "code", st.Code().String(),
				"duration", time.Since(start), "error", st.Message())
		} else {
			log.Info("grpc call", "method", info.FullMethod, "duration", time.Since(start))
		}
		return resp, err
	}
}

func recoveryInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc panic recovered", "method", info.FullMethod, "panic", r)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
