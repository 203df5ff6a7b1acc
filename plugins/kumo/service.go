package kumo

import (
	context "context"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gokumo/internal/climate"
	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/entity"
	"github.com/joshp123/gokumo/internal/rpc"
	"github.com/joshp123/gokumo/internal/setup"
)

type service struct {
	integration *setup.Integration
}

func RegisterKumoService(server *grpc.Server, integration *setup.Integration) error {
	s := &service{integration: integration}
	return rpc.Register(server, rpc.Service{
		Name: ServiceName,
		Methods: []rpc.Method{
			{Name: "ListEntities", Handler: s.ListEntities},
			{Name: "GetEntity", Handler: s.GetEntity},
			{Name: "SetTemperature", Handler: s.SetTemperature},
			{Name: "SetHvacMode", Handler: s.SetHvacMode},
			{Name: "SetFanMode", Handler: s.SetFanMode},
			{Name: "SetSwingMode", Handler: s.SetSwingMode},
			{Name: "TurnOn", Handler: s.TurnOn},
			{Name: "TurnOff", Handler: s.TurnOff},
			{Name: "Refresh", Handler: s.Refresh},
		},
	})
}

func (s *service) ready() error {
	if s.integration == nil {
		return status.Error(codes.FailedPrecondition, "kumo integration not configured")
	}
	return nil
}

// ListEntities accepts optional "platform" and "include_disabled" filters.
func (s *service) ListEntities(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	platform := rpc.String(req, "platform")
	includeDisabled := req.GetFields()["include_disabled"].GetBoolValue()

	entities := make([]any, 0)
	for _, e := range s.integration.Entities() {
		if platform != "" && e.Platform() != platform {
			continue
		}
		if !includeDisabled && !e.EnabledByDefault() {
			continue
		}
		entities = append(entities, entityView(e))
	}
	return rpc.Reply(map[string]any{
		"entities": entities,
		"pending":  toAny(s.integration.Pending()),
		"source":   s.integration.Source(),
	})
}

func (s *service) GetEntity(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := rpc.RequiredString(req, "unique_id")
	if err != nil {
		return nil, err
	}
	e, ok := s.integration.Entity(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "entity %q not found", id)
	}
	return rpc.Reply(map[string]any{"entity": entityView(e)})
}

func (s *service) thermostat(req *structpb.Struct) (*climate.Thermostat, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := rpc.RequiredString(req, "unique_id")
	if err != nil {
		return nil, err
	}
	t, ok := s.integration.Thermostat(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "thermostat %q not found", id)
	}
	return t, nil
}

// command runs fn against the thermostat and replies with its refreshed view.
func (s *service) command(ctx context.Context, req *structpb.Struct, fn func(context.Context, *climate.Thermostat) error) (*structpb.Struct, error) {
	t, err := s.thermostat(req)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, t); err != nil {
		return nil, status.Errorf(codes.Unavailable, "%s: %v", t.UniqueID(), err)
	}
	return rpc.Reply(map[string]any{"entity": entityView(t)})
}

// SetTemperature takes display-unit values: "temperature", or "target_temp_low" and
// "target_temp_high", plus an optional "hvac_mode".
func (s *service) SetTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var temp climate.TemperatureRequest
	var err error
	if temp.Temperature, err = rpc.Number(req, "temperature"); err != nil {
		return nil, err
	}
	if temp.Low, err = rpc.Number(req, "target_temp_low"); err != nil {
		return nil, err
	}
	if temp.High, err = rpc.Number(req, "target_temp_high"); err != nil {
		return nil, err
	}
	if raw := rpc.String(req, "hvac_mode"); raw != "" {
		mode, ok := climate.ParseHVACMode(raw)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown hvac_mode %q", raw)
		}
		temp.Mode = mode
	}
	if temp.Temperature == nil && temp.Low == nil && temp.High == nil {
		return nil, status.Error(codes.InvalidArgument, "temperature or target_temp_low/target_temp_high is required")
	}
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetTemperature(ctx, temp)
	})
}

// SetHvacMode passes unknown modes through; the thermostat turns the unit off for them.
func (s *service) SetHvacMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, err := rpc.RequiredString(req, "hvac_mode")
	if err != nil {
		return nil, err
	}
	mode, _ := climate.ParseHVACMode(raw)
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetHVACMode(ctx, mode)
	})
}

func (s *service) SetFanMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fan, err := rpc.RequiredString(req, "fan_mode")
	if err != nil {
		return nil, err
	}
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetFanMode(ctx, fan)
	})
}

func (s *service) SetSwingMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	swing, err := rpc.RequiredString(req, "swing_mode")
	if err != nil {
		return nil, err
	}
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.SetSwingMode(ctx, swing)
	})
}

func (s *service) TurnOn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.TurnOn(ctx)
	})
}

func (s *service) TurnOff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.command(ctx, req, func(ctx context.Context, t *climate.Thermostat) error {
		return t.TurnOff(ctx)
	})
}

// Refresh polls one unit ("serial") or every unit now.
func (s *service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	serial := rpc.String(req, "serial")

	results := map[string]any{}
	for _, dev := range s.integration.Devices() {
		if serial != "" && dev.Coordinator.Serial() != serial {
			continue
		}
		outcome := dev.Coordinator.Refresh(ctx)
		results[dev.Coordinator.Serial()] = map[string]any{
			"outcome":   outcome.String(),
			"available": dev.Coordinator.Available(),
		}
	}
	if serial != "" && len(results) == 0 {
		return nil, status.Errorf(codes.NotFound, "unit %q not found", serial)
	}
	return rpc.Reply(map[string]any{"results": results})
}

func entityView(e entity.Entity) map[string]any {
	info := e.DeviceInfo()
	view := map[string]any{
		"unique_id":          e.UniqueID(),
		"name":               e.Name(),
		"platform":           e.Platform(),
		"available":          e.Available(),
		"enabled_by_default": e.EnabledByDefault(),
		"attributes":         e.Attributes(),
		"device": map[string]any{
			"identifier":   info.Identifier,
			"manufacturer": info.Manufacturer,
			"name":         info.Name,
			"kind":         info.Kind,
		},
	}
	if c, ok := e.(interface {
		Coordinator() *coordinator.Coordinator
	}); ok {
		state := c.Coordinator().State()
		view["consecutive_failures"] = float64(state.ConsecutiveFailures)
		if !state.LastSuccess.IsZero() {
			view["last_success"] = state.LastSuccess.UTC().Format(time.RFC3339)
		}
	}
	return view
}

func toAny(values []string) []any {
	sort.Strings(values)
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
