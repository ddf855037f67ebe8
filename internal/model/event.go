package model

import "time"

// DosingEventKind identifies the direction/type of a volume change.
type DosingEventKind string

const (
	EventAddMedia    DosingEventKind = "add_media"
	EventAddAltMedia DosingEventKind = "add_alt_media"
	EventRemoveWaste DosingEventKind = "remove_waste"
)

// DosingEvent records one act of adding/removing liquid. VolumeChange is
// signed by convention of the caller (additions positive); the bus
// payload always carries the magnitude actually dispensed.
type DosingEvent struct {
	VolumeChange float64         `json:"volume_change"`
	Event        DosingEventKind `json:"event"`
	Timestamp    time.Time       `json:"timestamp"`
	SourceOfEvent string         `json:"source_of_event"`
}

// Throughput tracks cumulative ml pumped and the resulting alt-media
// volumetric fraction for one experiment. Persisted across restarts.
type Throughput struct {
	MediaML        float64 `json:"media_throughput"`
	AltMediaML     float64 `json:"alt_media_throughput"`
	AltMediaFraction float64 `json:"alt_media_fraction"`
}

// ApplyDose updates throughput counters and the alt-media fraction per
// the mixing law from an io action that added mediaML/altMediaML and
// removed wasteML from a vial of the given volume.
//
// alt' = alt*(1 - delta/V) + altML/V, where delta = mediaML + altMediaML.
func (t Throughput) ApplyDose(mediaML, altMediaML, vialVolume float64) Throughput {
	delta := mediaML + altMediaML
	next := t
	next.MediaML += mediaML
	next.AltMediaML += altMediaML
	if vialVolume > 0 {
		next.AltMediaFraction = t.AltMediaFraction*(1-delta/vialVolume) + altMediaML/vialVolume
	}
	return next
}

// StirringState is the published snapshot of the stirring controller.
type StirringState struct {
	TargetRPM   float64 `json:"target_rpm"`
	MeasuredRPM float64 `json:"measured_rpm"`
	DutyCycle   float64 `json:"duty_cycle"`
}

// AutomationEventKind tags the variant carried by AutomationEvent.
type AutomationEventKind string

const (
	EventNoEvent        AutomationEventKind = "NoEvent"
	EventDilution       AutomationEventKind = "DilutionEvent"
	EventAddAltMediaAut AutomationEventKind = "AddAltMediaEvent"
	EventAddMediaAut    AutomationEventKind = "AddMediaEvent"
	EventError          AutomationEventKind = "ErrorOccurred"
	EventLEDUpdate      AutomationEventKind = "LEDUpdateEvent"
)

// AutomationEvent is the tagged-union result of one automation
// execute() pass.
type AutomationEvent struct {
	Kind    AutomationEventKind    `json:"event_name"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func NoEvent(msg string) AutomationEvent {
	return AutomationEvent{Kind: EventNoEvent, Message: msg}
}

func DilutionEvent(msg string, data map[string]interface{}) AutomationEvent {
	return AutomationEvent{Kind: EventDilution, Message: msg, Data: data}
}

func AddAltMediaEvent(msg string, data map[string]interface{}) AutomationEvent {
	return AutomationEvent{Kind: EventAddAltMediaAut, Message: msg, Data: data}
}

func AddMediaEvent(msg string, data map[string]interface{}) AutomationEvent {
	return AutomationEvent{Kind: EventAddMediaAut, Message: msg, Data: data}
}

func ErrorOccurred(msg string) AutomationEvent {
	return AutomationEvent{Kind: EventError, Message: msg}
}

func LEDUpdateEvent(msg string, data map[string]interface{}) AutomationEvent {
	return AutomationEvent{Kind: EventLEDUpdate, Message: msg, Data: data}
}
