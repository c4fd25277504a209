/******************************************************************************
 *
 *  Description :
 *    Leveled loggers shared by all server packages. Every validation
 *    failure and transport error is reported through one of these,
 *    never by panicking past a component boundary.
 *
 *****************************************************************************/

package logs

import (
	"io"
	"log"
	"strings"
)

// Loggers for the three supported severities. Usable as-is with their
// zero configuration; Init replaces output and flags.
var (
	Info = log.New(log.Writer(), "I", log.LstdFlags)
	Warn = log.New(log.Writer(), "W", log.LstdFlags)
	Err  = log.New(log.Writer(), "E", log.LstdFlags)
)

// Init directs all loggers to out and applies a comma-separated list of
// log flags: datetime, timestamp, microseconds, utc, shortfile, longfile.
// Unknown flag names are ignored.
func Init(out io.Writer, flagList string) {
	flags := 0
	for _, f := range strings.Split(flagList, ",") {
		switch strings.TrimSpace(f) {
		case "datetime":
			flags |= log.Ldate | log.Ltime
		case "timestamp":
			flags |= log.LstdFlags
		case "microseconds":
			flags |= log.Lmicroseconds
		case "utc":
			flags |= log.LUTC
		case "shortfile":
			flags |= log.Lshortfile
		case "longfile":
			flags |= log.Llongfile
		}
	}

	Info = log.New(out, "I", flags)
	Warn = log.New(out, "W", flags)
	Err = log.New(out, "E", flags)
}
