package print

import "time"

// Alignment is the per-printer-per-format calibration: a scale factor and
// an X/Y offset applied by the driver so the image lands on the media the
// same way it did when the operator calibrated it.
type Alignment struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// Profile is the captured driver configuration for one printer and one
// format. DriverState is opaque to the routing logic; it is whatever the
// platform's DriverStateProvider handed back and is replayed verbatim
// before each job. CutEnabled and Alignment are parsed out of the capture
// for display and are folded back into DriverState on apply.
type Profile struct {
	Printer     string    `json:"printer"`
	Format      Format    `json:"format"`
	DriverState []byte    `json:"driver_state"`
	CutEnabled  bool      `json:"cut_enabled"`
	Alignment   Alignment `json:"alignment"`
	CapturedAt  time.Time `json:"captured_at"`
}

// ProfileKey is the store key for a printer+format pair.
func ProfileKey(printer string, format Format) string {
	return printer + "/" + format.String()
}
