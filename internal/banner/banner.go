package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
======================================================================
 __  __          _ _       ____
|  \/  | ___  __| (_) __ _/ ___|  ___ _ ____   _____ _ __
| |\/| |/ _ \/ _` + "`" + ` | |/ _` + "`" + ` \___ \ / _ \ '__\ \ / / _ \ '__|
| |  | |  __/ (_| | | (_| |___) |  __/ |   \ V /  __/ |
|_|  |_|\___|\__,_|_|\__,_|____/ \___|_|    \_/ \___|_|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the startup banner with the service name, the configuration
// lines aligned on their labels, and one line per endpoint.
func Print(w io.Writer, serviceName string, config []ConfigLine, endpoints []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintln(w, serviceName)

	maxLen := 0
	for _, c := range append(config, endpoints...) {
		maxLen = max(maxLen, len(c.Label))
	}
	printLines := func(lines []ConfigLine) {
		for _, c := range lines {
			padding := strings.Repeat(" ", maxLen-len(c.Label))
			fmt.Fprintf(w, "  %s%s : %s\n", c.Label, padding, c.Value)
		}
	}

	printLines(config)
	if len(endpoints) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Endpoints")
		printLines(endpoints)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ready.")
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
