// Package display renders a record as a full-screen ANSI/VT100 dashboard,
// for a field technician watching the node over a serial terminal.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/sweeney/handpump-sensor/internal/logic"
)

// lineWidth is how far each line moves the cursor back before drawing, so
// output stays flush left on terminals that do not honour a bare newline.
const lineWidth = 70

// Dashboard redraws the terminal for every record. It satisfies
// telemetry.Sink so it can sit alongside the MEAS line outputs.
type Dashboard struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Dashboard drawing to w.
func New(w io.Writer) *Dashboard {
	return &Dashboard{w: w}
}

// WriteRecord clears the screen and draws rec.
func (d *Dashboard) WriteRecord(rec logic.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := io.WriteString(d.w, Render(rec)); err != nil {
		return fmt.Errorf("draw dashboard: %w", err)
	}
	return nil
}

// Close is a no-op; the terminal belongs to the caller.
func (d *Dashboard) Close() error {
	return nil
}

// Render returns the escape sequences and text for one screen. The state
// banner is bold on the ANSI profile a serial terminal offers.
func Render(rec logic.Record) string {
	adc := "n/a"
	if rec.ADCValid {
		adc = fmt.Sprintf("%d", rec.ADCRaw)
	}

	var b strings.Builder
	out := termenv.NewOutput(&b, termenv.WithProfile(termenv.ANSI))
	line := func(format string, args ...any) {
		out.CursorBack(lineWidth)
		fmt.Fprintf(out, format, args...)
	}

	out.ClearScreen()
	fmt.Fprint(out, "*************** WORKING WELL ***************\n")
	line("Current Distance: %d mm\n", rec.DistanceMM)
	line("ADC: %s\n", adc)
	line("Total Volume Pumped: %f L\n\n", rec.TotalLiters)
	line("*************** PUMP STATUS ****************\n\n")
	line("\t\t%s\n\n", out.String(rec.State.String()).Bold())
	line("********************************************\n")
	return b.String()
}
