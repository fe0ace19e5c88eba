package xapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDuration ISO 8601 duration as xAPI expects it, e.g. PT1H2M3.5S.
// Sub-centisecond precision is dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(10 * time.Millisecond)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d.Seconds()

	var b strings.Builder
	b.WriteString("PT")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", int64(h))
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", int64(m))
	}
	if s > 0 || (h == 0 && m == 0) {
		b.WriteString(strconv.FormatFloat(s, 'f', -1, 64))
		b.WriteString("S")
	}
	return b.String()
}
