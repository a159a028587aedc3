package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// Display renders command output. Structured displays print JSON so the
// output can be piped; the others print tables and coloured messages.
type Display interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
	Table(headers []string, rows [][]string) error
	JSON(v any) error
	Structured() bool
}

// NewDisplay picks a display for a format name. "auto" renders tables on a
// terminal and JSON otherwise.
func NewDisplay(format string) Display {
	switch format {
	case "json":
		return &jsonDisplay{out: os.Stdout, msg: os.Stderr}
	case "table":
		return &termDisplay{}
	default:
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return &termDisplay{}
		}
		return &jsonDisplay{out: os.Stdout, msg: os.Stderr}
	}
}

type termDisplay struct{}

func (d *termDisplay) Info(format string, args ...any)    { pterm.Info.Printfln(format, args...) }
func (d *termDisplay) Success(format string, args ...any) { pterm.Success.Printfln(format, args...) }
func (d *termDisplay) Warning(format string, args ...any) { pterm.Warning.Printfln(format, args...) }
func (d *termDisplay) Error(format string, args ...any)   { pterm.Error.Printfln(format, args...) }

func (d *termDisplay) Table(headers []string, rows [][]string) error {
	data := pterm.TableData{headers}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func (d *termDisplay) JSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func (d *termDisplay) Structured() bool { return false }

type jsonDisplay struct {
	out io.Writer
	msg io.Writer
}

func (d *jsonDisplay) Info(format string, args ...any)    { fmt.Fprintf(d.msg, format+"\n", args...) }
func (d *jsonDisplay) Success(format string, args ...any) { fmt.Fprintf(d.msg, format+"\n", args...) }
func (d *jsonDisplay) Warning(format string, args ...any) {
	fmt.Fprintf(d.msg, "warning: "+format+"\n", args...)
}
func (d *jsonDisplay) Error(format string, args ...any) {
	fmt.Fprintf(d.msg, "error: "+format+"\n", args...)
}

func (d *jsonDisplay) Table(headers []string, rows [][]string) error {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				m[h] = row[i]
			}
		}
		out = append(out, m)
	}
	return writeJSON(d.out, out)
}

func (d *jsonDisplay) JSON(v any) error {
	return writeJSON(d.out, v)
}

func (d *jsonDisplay) Structured() bool { return true }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
