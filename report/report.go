// Package report - Console formatting of inference results and adapter discovery.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/pkg/errors"
)

// FormatValue renders v in its shortest round-trip float32 form, so whole numbers print without a
// decimal point.
func FormatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// ResultLine formats one batch row as "Result {i}: v0 v1 ... " with a trailing space.
func ResultLine(i int, row []float32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Result %d: ", i)
	for _, v := range row {
		b.WriteString(FormatValue(v))
		b.WriteByte(' ')
	}
	return b.String()
}

// Results writes one line per leading-dimension row of y, numbered from 1.
func Results(w io.Writer, y *tensor.Buffer) error {
	if y == nil {
		return errors.New("no output to report")
	}
	for i, row := range y.Rows() {
		if _, err := fmt.Fprintln(w, ResultLine(i+1, row)); err != nil {
			return errors.Wrap(err, "writing results")
		}
	}
	return nil
}

// Adapters writes the adapter count followed by one labeled block per adapter. Properties the
// adapter did not expose are omitted.
func Adapters(w io.Writer, rep adapters.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d compute-capable adapters:\n", rep.Count)
	for _, a := range rep.Adapters {
		fmt.Fprintf(&b, "Adapter %d:\n", a.Index)
		if a.HardwareID != nil {
			fmt.Fprintf(&b, "  Hardware ID: %s\n", a.HardwareID)
		}
		if a.DriverVersion != nil {
			fmt.Fprintf(&b, "  Driver Version: %s\n", a.DriverVersion)
		}
		if a.DriverDescription != nil {
			fmt.Fprintf(&b, "  Driver Description: %s\n", *a.DriverDescription)
		}
		if a.IsHardware != nil {
			fmt.Fprintf(&b, "  Is Hardware: %t\n", *a.IsHardware)
		}
		if a.LUID != nil {
			fmt.Fprintf(&b, "  LUID: %s\n", a.LUID)
		}
	}
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "writing adapter report")
}
