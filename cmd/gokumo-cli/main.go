package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/internal/core"
	"github.com/joshp123/gokumo/internal/rpc"
)

func main() {
	global := flag.NewFlagSet("gokumo-cli", flag.ExitOnError)
	jsonOutput := global.Bool("json", false, "Print JSON instead of tables")
	addrFlag := global.String("addr", "", "gRPC address (default $GOKUMO_GRPC_ADDR or config core.grpc_addr)")
	timeout := global.Duration("timeout", 10*time.Second, "Request timeout")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])
	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := *addrFlag
	if addr == "" {
		addr = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	out := outputMode{json: *jsonOutput}
	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], out)
	case "kumo":
		kumoCmd(ctx, conn, args[1:], out)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		resp, err := rpc.Invoke(ctx, conn, core.RegistryServiceName, "ListPlugins", &structpb.Struct{})
		if err != nil {
			fatal("list plugins", err)
		}
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, v := range resp.GetFields()["plugins"].GetListValue().GetValues() {
			p := v.GetStructValue()
			rows = append(rows, []string{
				rpc.String(p, "plugin_id"),
				rpc.String(p, "display_name"),
				rpc.String(p, "version"),
				rpc.String(p, "status"),
			})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		req, _ := structpb.NewStruct(map[string]any{"plugin_id": args[1]})
		resp, err := rpc.Invoke(ctx, conn, core.RegistryServiceName, "DescribePlugin", req)
		if err != nil {
			fatal("describe plugin", err)
		}
		plugin := resp.GetFields()["plugin"].GetStructValue()
		if out.json {
			out.printJSON(plugin.AsMap())
			return
		}
		fmt.Printf("id: %s\n", rpc.String(plugin, "plugin_id"))
		fmt.Printf("name: %s\n", rpc.String(plugin, "display_name"))
		fmt.Printf("version: %s\n", rpc.String(plugin, "version"))
		fmt.Printf("status: %s\n", rpc.String(plugin, "status"))
		if msg := rpc.String(plugin, "health_message"); msg != "" {
			fmt.Printf("health: %s\n", msg)
		}
		fmt.Println("services:")
		for _, svc := range plugin.GetFields()["services"].GetListValue().GetValues() {
			fmt.Printf("  - %s\n", svc.GetStringValue())
		}
		fmt.Println("dashboards:")
		for _, dash := range plugin.GetFields()["dashboards"].GetListValue().GetValues() {
			d := dash.GetStructValue()
			fmt.Printf("  - %s (%s)\n", rpc.String(d, "name"), rpc.String(d, "path"))
		}
		fmt.Println("agents_md:")
		fmt.Println(rpc.String(plugin, "agents_md"))
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}
	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}
	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	method := remaining[0]
	descSource := reflectionSource(ctx, conn)

	var reader io.Reader
	switch {
	case *data != "":
		reader = strings.NewReader(*data)
	case isStdinTerminal():
		reader = strings.NewReader("{}")
	default:
		reader = os.Stdin
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, reader, grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("invoke", handler.Status.Err())
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv("GOKUMO_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.ResolvePath("")}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gokumo", "config.pbtxt"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}

func usage() {
	fmt.Println("gokumo-cli [--json] [--addr host:port] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  kumo <command>             (gokumo-cli kumo for details)")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
