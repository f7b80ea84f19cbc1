package commands

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// color codes applied only when writing to a terminal.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorDim    = "\033[2m"
)

func useColor(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func paint(out io.Writer, color, text string) string {
	if !useColor(out) {
		return text
	}
	return color + text + colorReset
}

func statusColor(status string) string {
	switch status {
	case "completed", "approved", "OK", "pass":
		return colorGreen
	case "failed", "rejected", "denied", "EXCEEDED":
		return colorRed
	case "pending", "expired", "WARNING":
		return colorYellow
	default:
		return colorDim
	}
}

func printStatus(out io.Writer, status string) string {
	return paint(out, statusColor(status), status)
}
