package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// String returns a trimmed string field, or "" when absent.
func String(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// RequiredString returns an InvalidArgument status when key is missing or empty.
func RequiredString(req *structpb.Struct, key string) (string, error) {
	if s := String(req, key); s != "" {
		return s, nil
	}
	return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
}

// Number returns a numeric field, nil when absent or null.
func Number(req *structpb.Struct, key string) (*float64, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		return &n, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
}

// Reply wraps fields into a Struct, mapping encoding failures to Internal.
func Reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
