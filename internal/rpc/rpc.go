// Package rpc serves unary gRPC methods whose request and response are google.protobuf.Struct.
// Services are described at runtime so server reflection and grpcurl can discover them without
// generated code.
package rpc

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// Handler serves one method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name    string
	Handler Handler
}

// Service is a fully-qualified service name ("pkg.v1.Name") and its methods.
type Service struct {
	Name    string
	Methods []Method
}

func (s Service) split() (pkg, name string, err error) {
	idx := strings.LastIndex(s.Name, ".")
	if idx <= 0 || idx == len(s.Name)-1 {
		return "", "", fmt.Errorf("service name %q must be package qualified", s.Name)
	}
	return s.Name[:idx], s.Name[idx+1:], nil
}

// FileName is the synthetic descriptor path for the service.
func (s Service) FileName() string {
	return strings.ReplaceAll(s.Name, ".", "/") + ".proto"
}

// FullMethod returns the wire path for method.
func (s Service) FullMethod(method string) string {
	return "/" + s.Name + "/" + method
}

// Register publishes the service descriptor and registers the handlers on server.
func Register(server *grpc.Server, svc Service) error {
	if err := registerDescriptor(svc); err != nil {
		return err
	}
	desc := grpc.ServiceDesc{
		ServiceName: svc.Name,
		HandlerType: (*any)(nil),
		Metadata:    svc.FileName(),
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler(svc.FullMethod(m.Name), m.Handler),
		})
	}
	server.RegisterService(&desc, svc)
	return nil
}

func unaryHandler(fullMethod string, h Handler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: nil, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

func registerDescriptor(svc Service) error {
	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.FileName()); err == nil {
		return nil
	}
	pkg, name, err := svc.split()
	if err != nil {
		return err
	}

	service := &descriptorpb.ServiceDescriptorProto{Name: proto.String(name)}
	for _, m := range svc.Methods {
		service.Method = append(service.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.FileName()),
		Package:    proto.String(pkg),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{service},
		Syntax:     proto.String("proto3"),
	}
	fd, err := protodesc.NewFile(file, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor for %s: %w", svc.Name, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor for %s: %w", svc.Name, err)
	}
	return nil
}

// Invoke calls a Struct-typed method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/"+service+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
