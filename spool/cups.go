package spool

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/boothworks/printfleet/print"
)

// CUPS drives printers through the CUPS command line tools: lp for
// submission, lpoptions for driver state. The captured blob is the
// printer's default option list as lpoptions reports it, one key=value
// per token, replayed verbatim on apply.
type CUPS struct {
	// LPPath and LPOptionsPath override the binaries, mainly for tests.
	LPPath        string
	LPOptionsPath string
}

func NewCUPS() *CUPS {
	return &CUPS{LPPath: "lp", LPOptionsPath: "lpoptions"}
}

// requestIDRe matches lp's "request id is <printer>-<n> (1 file(s))".
var requestIDRe = regexp.MustCompile(`request id is (\S+)`)

func (c *CUPS) Submit(ctx context.Context, printer, imagePath string, copies int) (string, error) {
	cmd := exec.CommandContext(ctx, c.LPPath,
		"-d", printer,
		"-n", strconv.Itoa(copies),
		imagePath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("lp submit to %s: %w: %s", printer, err, strings.TrimSpace(string(out)))
	}
	if m := requestIDRe.FindStringSubmatch(string(out)); m != nil {
		return m[1], nil
	}
	// Some lp builds print nothing on success; the printer accepted the
	// job either way.
	return printer, nil
}

func (c *CUPS) Capture(ctx context.Context, printer string, format print.Format) (DriverState, error) {
	cmd := exec.CommandContext(ctx, c.LPOptionsPath, "-p", printer)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return DriverState{}, fmt.Errorf("lpoptions capture for %s: %w: %s", printer, err, strings.TrimSpace(string(out)))
	}
	raw := strings.TrimSpace(string(out))
	ds := DriverState{Raw: []byte(raw)}
	ds.CutEnabled, ds.Alignment = parseOptions(raw)
	return ds, nil
}

func (c *CUPS) Apply(ctx context.Context, printer string, raw []byte) error {
	args := []string{"-p", printer}
	for _, opt := range strings.Fields(string(raw)) {
		args = append(args, "-o", opt)
	}
	cmd := exec.CommandContext(ctx, c.LPOptionsPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("lpoptions apply for %s: %w: %s", printer, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// parseOptions pulls the display fields out of an option list. Cut is on
// when any Cut* option is set to something other than off/none; the dye
// sub drivers we target (DNP, HiTi, Mitsubishi) all expose it that way.
func parseOptions(raw string) (bool, print.Alignment) {
	align := print.Alignment{Scale: 1}
	cut := false
	for _, opt := range strings.Fields(raw) {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			continue
		}
		lv := strings.ToLower(val)
		switch {
		case strings.HasPrefix(key, "Cut"):
			cut = lv != "none" && lv != "off" && lv != "false" && lv != "0"
		case key == "ScalingFactor":
			if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
				align.Scale = f / 100
			}
		case key == "OffsetX":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				align.OffsetX = f
			}
		case key == "OffsetY":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				align.OffsetY = f
			}
		}
	}
	return cut, align
}
