package kumo

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/setup"
)

// MetricsCollector reports the last polled state of every unit. It never touches the network.
type MetricsCollector struct {
	integration *setup.Integration

	available     *prometheus.Desc
	failures      *prometheus.Desc
	lastSuccess   *prometheus.Desc
	currentTemp   *prometheus.Desc
	setpoint      *prometheus.Desc
	humidity      *prometheus.Desc
	outdoorTemp   *prometheus.Desc
	wifiRSSI      *prometheus.Desc
	sensorBattery *prometheus.Desc
	mode          *prometheus.Desc
	pending       *prometheus.Desc
	failed        *prometheus.Desc
	source        *prometheus.Desc
}

func NewMetricsCollector(integration *setup.Integration) *MetricsCollector {
	unit := []string{"serial", "unit_name", "kind"}
	return &MetricsCollector{
		integration: integration,

		available: prometheus.NewDesc("gokumo_kumo_unit_available",
			"Whether the unit is available (1=up, 0=down)", unit, nil),
		failures: prometheus.NewDesc("gokumo_kumo_unit_consecutive_failures",
			"Consecutive failed polls since the last success", unit, nil),
		lastSuccess: prometheus.NewDesc("gokumo_kumo_unit_last_success_timestamp_seconds",
			"Unix time of the last successful poll", unit, nil),
		currentTemp: prometheus.NewDesc("gokumo_kumo_room_temperature_celsius",
			"Room temperature reported by the unit (celsius)", unit, nil),
		setpoint: prometheus.NewDesc("gokumo_kumo_setpoint_celsius",
			"Heat and cool setpoints (celsius)", append(unit, "setpoint"), nil),
		humidity: prometheus.NewDesc("gokumo_kumo_room_humidity_percent",
			"Room humidity (%)", unit, nil),
		outdoorTemp: prometheus.NewDesc("gokumo_kumo_outdoor_temperature_celsius",
			"Outdoor temperature reported by a station (celsius)", unit, nil),
		wifiRSSI: prometheus.NewDesc("gokumo_kumo_wifi_rssi_dbm",
			"Adapter wifi signal strength (dBm)", unit, nil),
		sensorBattery: prometheus.NewDesc("gokumo_kumo_sensor_battery_percent",
			"Wireless sensor battery (%)", unit, nil),
		mode: prometheus.NewDesc("gokumo_kumo_operation_mode",
			"Vendor operation mode (1=active)", append(unit, "mode"), nil),
		pending: prometheus.NewDesc("gokumo_kumo_units_pending",
			"Units waiting for a successful first poll", nil, nil),
		failed: prometheus.NewDesc("gokumo_kumo_units_failed",
			"Units abandoned after the setup attempt limit", nil, nil),
		source: prometheus.NewDesc("gokumo_kumo_directory_source",
			"Where the account directory was loaded from (1=active)", []string{"source"}, nil),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.failures
	ch <- c.lastSuccess
	ch <- c.currentTemp
	ch <- c.setpoint
	ch <- c.humidity
	ch <- c.outdoorTemp
	ch <- c.wifiRSSI
	ch <- c.sensorBattery
	ch <- c.mode
	ch <- c.pending
	ch <- c.failed
	ch <- c.source
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.integration == nil {
		return
	}
	for _, dev := range c.integration.Devices() {
		record := dev.Coordinator.Record()
		state := dev.Coordinator.State()
		labels := []string{record.Serial, record.Name, string(record.Kind)}

		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, boolToFloat(state.Available), labels...)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(state.ConsecutiveFailures), labels...)
		if !state.LastSuccess.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(state.LastSuccess.Unix()), labels...)
		}
		c.collectStatus(ch, record, state.Status, labels)
	}

	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(len(c.integration.Pending())))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, float64(len(c.integration.Failed())))
	if source := c.integration.Source(); source != "" {
		ch <- prometheus.MustNewConstMetric(c.source, prometheus.GaugeValue, 1, source)
	}
}

func (c *MetricsCollector) collectStatus(ch chan<- prometheus.Metric, record device.Record, status device.Status, labels []string) {
	gauge := func(desc *prometheus.Desc, v *float64, extra ...string) {
		if v == nil {
			return
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, *v, append(append([]string(nil), labels...), extra...)...)
	}

	if record.Kind == device.KindOutdoorStation {
		gauge(c.outdoorTemp, status.OutdoorTemp)
		gauge(c.wifiRSSI, status.WifiRSSI)
		return
	}
	gauge(c.currentTemp, status.CurrentTemp)
	gauge(c.setpoint, status.HeatSetpoint, "heat")
	gauge(c.setpoint, status.CoolSetpoint, "cool")
	gauge(c.humidity, status.Humidity)
	gauge(c.wifiRSSI, status.WifiRSSI)
	gauge(c.sensorBattery, status.SensorBattery)
	if status.Mode != nil {
		one := 1.0
		gauge(c.mode, &one, *status.Mode)
	}
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
