package schema

import "time"

// Stage is a step of the conversion pipeline state machine.
type Stage string

const (
	StageReceived           Stage = "received"
	StageValidated          Stage = "validated"
	StageTypeDetected       Stage = "type_detected"
	StageConverterSelected  Stage = "converter_selected"
	StageSourceParsed       Stage = "source_parsed"
	StagePositionsExtracted Stage = "positions_extracted"
	StageXMLBuilt           Stage = "xml_built"
	StageRasterized         Stage = "rasterized"
	StageXMLEmbedded        Stage = "xml_embedded"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// IsTerminal reports whether no further transition can leave the stage.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Event type constants published on the stage event hub.
const (
	EventStageEntered     = "stage_entered"
	EventConversionDone   = "conversion_done"
	EventConversionFailed = "conversion_failed"
)

// StageEvent records one stage transition of a conversion request.
type StageEvent struct {
	RequestID string         `json:"request_id"`
	Type      string         `json:"type"`
	From      Stage          `json:"from"`
	To        Stage          `json:"to"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
