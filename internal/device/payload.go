package device

// statusPayload is the partial shape of GET /v0/room/{name}/status.
type statusPayload struct {
	R struct {
		IndoorUnit *struct {
			Status *indoorStatus `json:"status"`
		} `json:"indoorUnit"`
		KumoStation *struct {
			Status *struct {
				OutdoorTemp *float64 `json:"outdoorTemp"`
			} `json:"status"`
		} `json:"kumoStation"`
		Adapter *struct {
			Status *struct {
				RSSI *float64 `json:"rssi"`
			} `json:"status"`
		} `json:"adapter"`
		Sensors []sensorStatus `json:"sensors"`
	} `json:"r"`
}

type indoorStatus struct {
	Mode        *string  `json:"mode"`
	Standby     *bool    `json:"standby"`
	FanSpeed    *string  `json:"fanSpeed"`
	VaneDir     *string  `json:"vaneDir"`
	RoomTemp    *float64 `json:"roomTemp"`
	SpHeat      *float64 `json:"spHeat"`
	SpCool      *float64 `json:"spCool"`
	Humidity    *float64 `json:"humidity"`
	FilterDirty *bool    `json:"filterDirty"`
	Defrost     *bool    `json:"defrost"`
	RunState    *string  `json:"runState"`
}

type sensorStatus struct {
	Battery  *float64 `json:"battery"`
	RSSI     *float64 `json:"rssi"`
	Humidity *float64 `json:"humidity"`
}

// toStatus flattens the payload. ok is false when the section for the unit kind is absent.
func (p statusPayload) toStatus(kind Kind) (Status, bool) {
	var status Status

	if p.R.Adapter != nil && p.R.Adapter.Status != nil {
		status.WifiRSSI = p.R.Adapter.Status.RSSI
	}

	switch kind {
	case KindOutdoorStation:
		if p.R.KumoStation == nil || p.R.KumoStation.Status == nil {
			return Status{}, false
		}
		status.OutdoorTemp = p.R.KumoStation.Status.OutdoorTemp
		return status, true
	default:
		if p.R.IndoorUnit == nil || p.R.IndoorUnit.Status == nil {
			return Status{}, false
		}
	}

	s := p.R.IndoorUnit.Status
	status.Mode = s.Mode
	status.Standby = s.Standby
	status.FanSpeed = s.FanSpeed
	status.VaneDirection = s.VaneDir
	status.CurrentTemp = s.RoomTemp
	status.HeatSetpoint = s.SpHeat
	status.CoolSetpoint = s.SpCool
	status.Humidity = s.Humidity
	status.FilterDirty = s.FilterDirty
	status.Defrost = s.Defrost
	status.Runstate = s.RunState

	if len(p.R.Sensors) > 0 {
		sensor := p.R.Sensors[0]
		status.SensorBattery = sensor.Battery
		status.SensorRSSI = sensor.RSSI
		if status.Humidity == nil {
			status.Humidity = sensor.Humidity
		}
	}

	return status, true
}
