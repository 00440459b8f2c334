package diag

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NoVisualDifference is returned by Diff when both values render identically.
const NoVisualDifference = "Compared values have no visual difference."

// Diff renders expected and received in expanded form and returns their line
// diff under a "- Expected" / "+ Received" header.
func Diff(expected, received any) string {
	a := strings.Split(Pretty(expected), "\n")
	b := strings.Split(Pretty(received), "\n")
	body, changed := diffLines(a, b)
	if !changed {
		return NoVisualDifference
	}
	return "- Expected\n+ Received\n\n" + body
}

// DiffStrings returns the line diff of two strings without a header.
func DiffStrings(expected, received string) string {
	body, _ := diffLines(strings.Split(expected, "\n"), strings.Split(received, "\n"))
	return body
}

func diffLines(a, b []string) (string, bool) {
	var out []string
	changed := false
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'e':
			out = appendPrefixed(out, "  ", a[op.I1:op.I2])
		case 'd':
			changed = true
			out = appendPrefixed(out, "- ", a[op.I1:op.I2])
		case 'i':
			changed = true
			out = appendPrefixed(out, "+ ", b[op.J1:op.J2])
		case 'r':
			changed = true
			out = appendPrefixed(out, "- ", a[op.I1:op.I2])
			out = appendPrefixed(out, "+ ", b[op.J1:op.J2])
		}
	}
	return strings.Join(out, "\n"), changed
}

func appendPrefixed(out []string, prefix string, lines []string) []string {
	for _, l := range lines {
		out = append(out, prefix+l)
	}
	return out
}
