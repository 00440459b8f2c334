// Package diag renders the failure and negation messages of the storage
// assertions: quoted values, compact option maps and line diffs.
package diag

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[39m"
)

// Printer formats values embedded in messages. The zero value prints without
// colour.
type Printer struct {
	Color bool
}

// Expected formats v as an expected value.
func (p Printer) Expected(v any) string {
	return p.paint(ansiGreen, Stringify(v))
}

// Received formats v as a received value.
func (p Printer) Received(v any) string {
	return p.paint(ansiRed, Stringify(v))
}

func (p Printer) paint(color, s string) string {
	if !p.Color {
		return s
	}
	return color + s + ansiReset
}

// Stringify renders v on one line: strings quoted, maps with sorted keys as
// {"a": 1}, slices as [1, 2], nil as null.
func Stringify(v any) string {
	var b strings.Builder
	writeValue(&b, reflect.ValueOf(v), false, 0)
	return b.String()
}

// Pretty renders v over multiple lines the way Diff compares it.
func Pretty(v any) string {
	var b strings.Builder
	writeValue(&b, reflect.ValueOf(v), true, 0)
	return b.String()
}

func writeValue(b *strings.Builder, v reflect.Value, expand bool, depth int) {
	if !v.IsValid() {
		b.WriteString("null")
		return
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("null")
			return
		}
		writeValue(b, v.Elem(), expand, depth)
	case reflect.String:
		b.WriteString(quote(v.String()))
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(formatFloat(v.Float()))
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		entries := make([]entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, entry{label: quote(fmt.Sprint(k.Interface())), value: v.MapIndex(k)})
		}
		writeEntries(b, "Object", entries, expand, depth, '{', '}')
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			b.WriteString("null")
			return
		}
		entries := make([]entry, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			entries = append(entries, entry{value: v.Index(i)})
		}
		writeEntries(b, "Array", entries, expand, depth, '[', ']')
	case reflect.Struct:
		t := v.Type()
		entries := make([]entry, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			entries = append(entries, entry{label: quote(t.Field(i).Name), value: v.Field(i)})
		}
		b.WriteString(t.Name())
		b.WriteByte(' ')
		writeEntries(b, "", entries, expand, depth, '{', '}')
	default:
		fmt.Fprintf(b, "%v", v.Interface())
	}
}

type entry struct {
	label string
	value reflect.Value
}

func writeEntries(b *strings.Builder, name string, entries []entry, expand bool, depth int, open, close byte) {
	if expand && name != "" {
		b.WriteString(name)
		b.WriteByte(' ')
	}
	b.WriteByte(open)
	if len(entries) == 0 {
		b.WriteByte(close)
		return
	}
	if !expand {
		for i, e := range entries {
			if i > 0 {
				b.WriteString(", ")
			}
			if e.label != "" {
				b.WriteString(e.label)
				b.WriteString(": ")
			}
			writeValue(b, e.value, false, depth+1)
		}
		b.WriteByte(close)
		return
	}
	indent := strings.Repeat("  ", depth+1)
	b.WriteByte('\n')
	for _, e := range entries {
		b.WriteString(indent)
		if e.label != "" {
			b.WriteString(e.label)
			b.WriteString(": ")
		}
		writeValue(b, e.value, true, depth+1)
		b.WriteString(",\n")
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteByte(close)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
