// Package banner renders the startup summary printed by the dialer.
package banner

import (
	"fmt"
	"io"
	"strings"
)

const rule = "======================================================================"

const logo = `
 ____  _       _
|  _ \(_) __ _| | ___ _ __
| | | | |/ _` + "`" + ` | |/ _ \ '__|
| |_| | | (_| | |  __/ |
|____/|_|\__,_|_|\___|_|`

// Field is one labelled value in the banner.
type Field struct {
	Label string
	Value string
}

// Write renders the banner for title to w. Labels are right-padded so the
// values line up; fields with an empty value show "-".
func Write(w io.Writer, title string, fields []Field) error {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}

	var b strings.Builder
	b.WriteString(rule)
	b.WriteString(logo)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(rule)))
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString("\n")
	for _, f := range fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "  %-*s : %s\n", width, f.Label, value)
	}
	b.WriteString(rule)
	b.WriteString("\n\n")

	_, err := io.WriteString(w, b.String())
	return err
}
