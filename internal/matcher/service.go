// Package matcher reaches the face-matching service over gRPC. Requests
// and replies are google.protobuf.Struct messages, so no generated stubs
// are needed on either side; the service descriptor lives here for servers
// and simulators.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/facegate/internal/recognition"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

const (
	ServiceName = "facegate.matcher.v1.Matcher"

	enrollMethod = "/" + ServiceName + "/Enroll"
	matchMethod  = "/" + ServiceName + "/Match"
)

// Message field names.
const (
	fieldName  = "name"
	fieldFrame = "frame"
	fieldFaces = "faces"
	fieldNames = "names"
)

// ErrNoFace is returned by Enroll when a reference photo has no face in it.
var ErrNoFace = errors.New("no face in reference photo")

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*recognition.Matcher)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enroll", Handler: enrollHandler},
		{MethodName: "Match", Handler: matchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facegate/matcher/v1/matcher.proto",
}

// RegisterServer exposes impl as the matcher service on s.
func RegisterServer(s grpc.ServiceRegistrar, impl recognition.Matcher) {
	s.RegisterService(&serviceDesc, impl)
}

func enrollHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return serveEnroll(ctx, srv.(recognition.Matcher), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: enrollMethod}, handler)
}

func matchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return serveMatch(ctx, srv.(recognition.Matcher), req.(*structpb.Struct))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: matchMethod}, handler)
}

func serveEnroll(ctx context.Context, impl recognition.Matcher, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()[fieldName].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	grid, err := frameField(req)
	if err != nil {
		return nil, err
	}
	if err := impl.Enroll(ctx, name, grid); err != nil {
		if errors.Is(err, ErrNoFace) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "enroll %q: %v", name, err)
	}
	return structpb.NewStruct(map[string]interface{}{fieldName: name})
}

func serveMatch(ctx context.Context, impl recognition.Matcher, req *structpb.Struct) (*structpb.Struct, error) {
	grid, err := frameField(req)
	if err != nil {
		return nil, err
	}
	outcome, err := impl.Match(ctx, grid)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "match: %v", err)
	}
	return outcomeToStruct(outcome), nil
}

func frameField(req *structpb.Struct) (framecodec.Grid, error) {
	v, ok := req.GetFields()[fieldFrame]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "frame is required")
	}
	grid, err := framecodec.Decode(v.GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return grid, nil
}

func outcomeToStruct(outcome recognition.MatchOutcome) *structpb.Struct {
	names := make([]*structpb.Value, len(outcome.Names))
	for i, n := range outcome.Names {
		names[i] = structpb.NewStringValue(n)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFaces: structpb.NewNumberValue(float64(outcome.Faces)),
		fieldNames: structpb.NewListValue(&structpb.ListValue{Values: names}),
	}}
}

func outcomeFromStruct(s *structpb.Struct) (recognition.MatchOutcome, error) {
	fields := s.GetFields()
	faces, ok := fields[fieldFaces]
	if !ok {
		return recognition.MatchOutcome{}, fmt.Errorf("match reply has no %q field", fieldFaces)
	}
	outcome := recognition.MatchOutcome{Faces: int(faces.GetNumberValue())}
	for _, v := range fields[fieldNames].GetListValue().GetValues() {
		if name := v.GetStringValue(); name != "" {
			outcome.Names = append(outcome.Names, name)
		}
	}
	return outcome, nil
}
