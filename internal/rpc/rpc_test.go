package rpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

func dial(t *testing.T, svc Service) *grpc.ClientConn {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	if err := Register(server, svc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return ln.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func echoService() Service {
	return Service{
		Name: "gokumo.test.v1.EchoService",
		Methods: []Method{{
			Name: "Echo",
			Handler: func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				text, err := RequiredString(req, "text")
				if err != nil {
					return nil, err
				}
				return Reply(map[string]any{"text": text})
			},
		}},
	}
}

func TestRegisterAndInvoke(t *testing.T) {
	svc := echoService()
	conn := dial(t, svc)

	req, _ := structpb.NewStruct(map[string]any{"text": "hi"})
	resp, err := Invoke(context.Background(), conn, svc.Name, "Echo", req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := String(resp, "text"); got != "hi" {
		t.Fatalf("text = %q", got)
	}

	_, err = Invoke(context.Background(), conn, svc.Name, "Echo", nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}

	fd, err := protoregistry.GlobalFiles.FindFileByPath(svc.FileName())
	if err != nil {
		t.Fatalf("descriptor not registered: %v", err)
	}
	if fd.Services().ByName("EchoService").Methods().ByName("Echo") == nil {
		t.Fatalf("method missing from descriptor")
	}

	// Registering the same descriptor on another server is allowed.
	if err := Register(grpc.NewServer(), svc); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestRegisterRejectsUnqualifiedName(t *testing.T) {
	if err := Register(grpc.NewServer(), Service{Name: "Echo"}); err == nil {
		t.Fatalf("expected error for unqualified service name")
	}
}

func TestNumber(t *testing.T) {
	req, _ := structpb.NewStruct(map[string]any{"n": 21.5, "s": "x", "z": nil})
	if n, err := Number(req, "n"); err != nil || n == nil || *n != 21.5 {
		t.Fatalf("Number(n) = %v, %v", n, err)
	}
	if n, err := Number(req, "z"); err != nil || n != nil {
		t.Fatalf("Number(z) = %v, %v", n, err)
	}
	if n, err := Number(req, "missing"); err != nil || n != nil {
		t.Fatalf("Number(missing) = %v, %v", n, err)
	}
	if _, err := Number(req, "s"); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for string, got %v", err)
	}
}
