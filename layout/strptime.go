package layout

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// strptime-style format specifiers and their Go reference-layout
// equivalents. %.f maps to an optional fractional second, which Go renders
// as a dot followed by nines.
var strptimeSpecs = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'b': "Jan",
	'B': "January",
	'd': "02",
	'e': "_2",
	'a': "Mon",
	'A': "Monday",
	'H': "15",
	'I': "03",
	'p': "PM",
	'M': "04",
	'S': "05",
	'z': "-0700",
	'Z': "MST",
}

// GoTimeLayout translates a strptime-style format string into the Go
// reference-time layout used by package time.
func GoTimeLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(format) {
			return "", errors.Errorf("dangling %% in format %q", format)
		}
		switch format[i] {
		case '%':
			b.WriteByte('%')
		case '.':
			i++
			if i == len(format) || format[i] != 'f' {
				return "", errors.Errorf("unsupported specifier %%.%c in format %q", format[i-1], format)
			}
			b.WriteString(".999999")
		default:
			spec, ok := strptimeSpecs[format[i]]
			if !ok {
				return "", errors.Errorf("unsupported specifier %%%c in format %q", format[i], format)
			}
			b.WriteString(spec)
		}
	}
	return b.String(), nil
}

// ParseDateTime parses text against a strptime-style format and returns
// microseconds since the Unix epoch. Formats without a zone are taken as
// UTC.
func ParseDateTime(text, format string) (int64, error) {
	goLayout, err := GoTimeLayout(format)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse(goLayout, text)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q with format %q", text, format)
	}
	return t.UnixMicro(), nil
}

// FormatDateTime renders microseconds since the Unix epoch using a
// strptime-style format, in UTC.
func FormatDateTime(micros int64, format string) (string, error) {
	goLayout, err := GoTimeLayout(format)
	if err != nil {
		return "", err
	}
	return time.UnixMicro(micros).UTC().Format(goLayout), nil
}
