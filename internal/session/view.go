package session

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCompareLabel is the compare button text while idle.
const DefaultCompareLabel = "Compare Faces"

// Slot identifies one of the two upload positions.
type Slot int

const (
	SlotA Slot = 1
	SlotB Slot = 2
)

var errUnknownSlot = errors.New("unknown image slot")

// ParseSlot accepts "1"/"2" as well as "a"/"b".
func ParseSlot(value string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "a":
		return SlotA, nil
	case "2", "b":
		return SlotB, nil
	}
	return 0, fmt.Errorf("%w: %q", errUnknownSlot, value)
}

func (s Slot) index() (int, error) {
	switch s {
	case SlotA:
		return 0, nil
	case SlotB:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %d", errUnknownSlot, int(s))
}

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// Confidence is the qualitative reading of a match percentage.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Tone is the visual treatment paired with a confidence level.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneWarning Tone = "warning"
	ToneDanger  Tone = "danger"
)

// Classify maps a match percentage to its confidence level and tone.
func Classify(percentage float64) (Confidence, Tone) {
	switch {
	case percentage >= 70:
		return ConfidenceHigh, ToneSuccess
	case percentage >= 50:
		return ConfidenceMedium, ToneWarning
	default:
		return ConfidenceLow, ToneDanger
	}
}

// UploadZone is the rendered state of one slot: either the drop zone or the preview.
type UploadZone struct {
	ZoneVisible   bool   `json:"zone_visible"`
	PreviewActive bool   `json:"preview_active"`
	PreviewSrc    string `json:"preview_src,omitempty"`
	FileName      string `json:"file_name,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
}

// CompareButton is the rendered state of the compare trigger.
type CompareButton struct {
	Disabled bool   `json:"disabled"`
	Loading  bool   `json:"loading"`
	Label    string `json:"label"`
}

// Banner is the error message region.
type Banner struct {
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
}

// Results is the rendered comparison outcome.
type Results struct {
	Visible          bool       `json:"visible"`
	PercentageText   string     `json:"percentage_text"`
	PercentageColor  string     `json:"percentage_color"`
	LevelText        string     `json:"level_text"`
	LevelColor       string     `json:"level_color"`
	TimeNote         string     `json:"time_note,omitempty"`
	ProgressWidth    string     `json:"progress_width"`
	DetailScore      string     `json:"detail_score"`
	DetailDistance   string     `json:"detail_distance"`
	Confidence       Confidence `json:"confidence"`
	ConfidenceTone   Tone       `json:"confidence_tone"`
	Verified         *bool      `json:"verified,omitempty"`
	ScrolledIntoView bool       `json:"scrolled_into_view"`
}

// View is everything the page shows for one session.
type View struct {
	Zones   [2]UploadZone `json:"zones"`
	Compare CompareButton `json:"compare"`
	Error   Banner        `json:"error"`
	Results Results       `json:"results"`
}

func newView() View {
	empty := UploadZone{ZoneVisible: true}
	return View{
		Zones:   [2]UploadZone{empty, empty},
		Compare: CompareButton{Disabled: true, Label: DefaultCompareLabel},
		Results: Results{ProgressWidth: "0%"},
	}
}

func (v View) clone() View {
	if v.Results.Verified != nil {
		verified := *v.Results.Verified
		v.Results.Verified = &verified
	}
	return v
}
