package model

import "time"

// ODReading is one channel's calibrated (or raw-volts) reading at a
// given angle, taken during a single sample tick.
type ODReading struct {
	Timestamp time.Time    `json:"timestamp"`
	Angle     ScatterAngle `json:"angle"`
	OD        float64      `json:"od"` // volts if uncalibrated, else OD600
	Channel   int          `json:"channel"`
}

// Label identifies a reading within a batch, e.g. "135/A".
func (r ODReading) Label(channelName string) string {
	return ScatterAngleLabel(r.Angle, channelName)
}

// ScatterAngleLabel formats the "<angle>/<channel-name>" key used in
// batched OD messages and growth-rate per-angle topics.
func ScatterAngleLabel(angle ScatterAngle, channelName string) string {
	return angleString(angle) + "/" + channelName
}

func angleString(a ScatterAngle) string {
	switch a {
	case Angle45:
		return "45"
	case Angle90:
		return "90"
	case Angle135:
		return "135"
	case Angle180:
		return "180"
	default:
		return "0"
	}
}

// ODBatch groups every channel reading taken within one sample tick,
// keyed by label (angle/channel-name).
type ODBatch struct {
	Timestamp time.Time            `json:"timestamp"`
	Readings  map[string]ODReading `json:"od_raw"`
}

// NewODBatch returns an empty batch stamped at ts.
func NewODBatch(ts time.Time) ODBatch {
	return ODBatch{Timestamp: ts, Readings: make(map[string]ODReading)}
}
