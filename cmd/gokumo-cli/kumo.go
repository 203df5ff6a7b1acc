package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gokumo/internal/rpc"
	"github.com/joshp123/gokumo/plugins/kumo"
)

func kumoCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) == 0 {
		kumoUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "entities", "list":
		resp := kumoCall(ctx, conn, "ListEntities", map[string]any{"include_disabled": len(args) > 1 && args[1] == "--all"})
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"UNIQUE_ID", "NAME", "PLATFORM", "AVAILABLE", "STATE"}}
		for _, v := range resp.GetFields()["entities"].GetListValue().GetValues() {
			e := v.GetStructValue()
			rows = append(rows, []string{
				rpc.String(e, "unique_id"),
				rpc.String(e, "name"),
				rpc.String(e, "platform"),
				strconv.FormatBool(e.GetFields()["available"].GetBoolValue()),
				summary(e),
			})
		}
		out.table(rows)
		if pending := resp.GetFields()["pending"].GetListValue().GetValues(); len(pending) > 0 {
			names := make([]string, 0, len(pending))
			for _, p := range pending {
				names = append(names, p.GetStringValue())
			}
			fmt.Printf("\npending: %s\n", strings.Join(names, ", "))
		}
	case "set":
		if len(args) < 3 {
			fatal("kumo set", fmt.Errorf("usage: gokumo-cli kumo set <unit> <temp> | <unit> <low> <high>"))
		}
		fields := map[string]any{"unique_id": resolveThermostat(ctx, conn, args[1])}
		temp, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fatal("kumo set", fmt.Errorf("invalid temperature %q", args[2]))
		}
		if len(args) > 3 {
			high, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				fatal("kumo set", fmt.Errorf("invalid temperature %q", args[3]))
			}
			fields["target_temp_low"] = temp
			fields["target_temp_high"] = high
			fields["hvac_mode"] = "heat_cool"
		} else {
			fields["temperature"] = temp
		}
		printEntity(out, kumoCall(ctx, conn, "SetTemperature", fields))
	case "mode":
		kumoSetField(ctx, conn, out, args, "SetHvacMode", "hvac_mode")
	case "fan":
		kumoSetField(ctx, conn, out, args, "SetFanMode", "fan_mode")
	case "swing":
		kumoSetField(ctx, conn, out, args, "SetSwingMode", "swing_mode")
	case "on", "off":
		if len(args) < 2 {
			fatal("kumo "+args[0], fmt.Errorf("usage: gokumo-cli kumo %s <unit>", args[0]))
		}
		method := "TurnOn"
		if args[0] == "off" {
			method = "TurnOff"
		}
		printEntity(out, kumoCall(ctx, conn, method, map[string]any{"unique_id": resolveThermostat(ctx, conn, args[1])}))
	case "refresh":
		fields := map[string]any{}
		if len(args) > 1 {
			fields["serial"] = resolveThermostat(ctx, conn, args[1])
		}
		resp := kumoCall(ctx, conn, "Refresh", fields)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"SERIAL", "OUTCOME", "AVAILABLE"}}
		for serial, v := range resp.GetFields()["results"].GetStructValue().GetFields() {
			r := v.GetStructValue()
			rows = append(rows, []string{serial, rpc.String(r, "outcome"), strconv.FormatBool(r.GetFields()["available"].GetBoolValue())})
		}
		out.table(rows)
	default:
		kumoUsage()
		os.Exit(2)
	}
}

func kumoSetField(ctx context.Context, conn *grpc.ClientConn, out outputMode, args []string, method, field string) {
	if len(args) < 3 {
		fatal("kumo "+args[0], fmt.Errorf("usage: gokumo-cli kumo %s <unit> <value>", args[0]))
	}
	fields := map[string]any{"unique_id": resolveThermostat(ctx, conn, args[1]), field: args[2]}
	printEntity(out, kumoCall(ctx, conn, method, fields))
}

func kumoCall(ctx context.Context, conn *grpc.ClientConn, method string, fields map[string]any) *structpb.Struct {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		fatal("kumo "+method, err)
	}
	resp, err := rpc.Invoke(ctx, conn, kumo.ServiceName, method, req)
	if err != nil {
		fatal("kumo "+method, err)
	}
	return resp
}

// resolveThermostat accepts a unique id or a unit name.
func resolveThermostat(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp := kumoCall(ctx, conn, "ListEntities", map[string]any{"platform": "climate"})
	options := make(map[string]string)
	for _, v := range resp.GetFields()["entities"].GetListValue().GetValues() {
		e := v.GetStructValue()
		id := rpc.String(e, "unique_id")
		if id == input {
			return id
		}
		options[rpc.String(e, "name")] = id
	}
	id, err := resolveNamedID("unit", input, options)
	if err != nil {
		fatal("kumo", err)
	}
	return id
}

func printEntity(out outputMode, resp *structpb.Struct) {
	e := resp.GetFields()["entity"].GetStructValue()
	if out.json {
		out.printJSON(e.AsMap())
		return
	}
	fmt.Printf("ok: %s %s\n", rpc.String(e, "name"), summary(e))
}

func summary(e *structpb.Struct) string {
	attrs := e.GetFields()["attributes"].GetStructValue()
	if rpc.String(e, "platform") != "climate" {
		value, ok := number(attrs, "value")
		if !ok {
			return "-"
		}
		return strconv.FormatFloat(value, 'f', -1, 64) + rpc.String(attrs, "unit_of_measurement")
	}
	unit := rpc.String(attrs, "temperature_unit")
	parts := []string{rpc.String(attrs, "hvac_mode")}
	if current, ok := number(attrs, "current_temperature"); ok {
		parts = append(parts, fmt.Sprintf("now %.1f°%s", current, unit))
	}
	if target, ok := number(attrs, "target_temperature"); ok {
		parts = append(parts, fmt.Sprintf("target %.1f°%s", target, unit))
	}
	return strings.Join(parts, " ")
}

func number(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return v.NumberValue, true
}

func kumoUsage() {
	fmt.Println("gokumo-cli kumo <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  entities [--all]")
	fmt.Println("  set <unit> <temp>")
	fmt.Println("  set <unit> <low> <high>")
	fmt.Println("  mode <unit> <off|heat|cool|heat_cool|dry|fan_only>")
	fmt.Println("  fan <unit> <speed>")
	fmt.Println("  swing <unit> <direction>")
	fmt.Println("  on <unit>")
	fmt.Println("  off <unit>")
	fmt.Println("  refresh [unit]")
}
