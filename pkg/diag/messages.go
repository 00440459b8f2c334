package diag

import (
	"strings"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/match"
)

// Formatter builds assertion messages. Every message is phrased for the
// polarity that failed: a matched query yields the "not to have" wording.
type Formatter struct {
	Printer Printer
	Codec   blob.Codec
}

// NewFormatter returns a Formatter using codec for version slugs.
func NewFormatter(p Printer, codec blob.Codec) Formatter {
	if codec == nil {
		codec = blob.DefaultCodec{}
	}
	return Formatter{Printer: p, Codec: codec}
}

// FileMissing reports a fixture that could not be resolved.
func (f Formatter) FileMissing(scope match.Scope, file string) string {
	if scope.IsInstance() {
		return "expected Storage instance to have stored the file but " + f.Printer.Expected(file) + " does not exist"
	}
	return "expected file to have been stored but " + f.Printer.Expected(file) + " does not exist"
}

// Stored formats the outcome of a stored-file query.
func (f Formatter) Stored(scope match.Scope, file string, opts match.Options, m match.StoredMatch) string {
	p := f.Printer
	if m.Matched {
		fileStr := p.Received(file)
		if scope.IsInstance() {
			return "expected Storage instance not to have stored " + fileStr + f.withOptions(opts, p.Received) + " but it did"
		}
		return "expected " + fileStr + " not to have been stored" + f.withOptions(opts, p.Received) + " but it was"
	}

	fileStr := p.Expected(file)
	var head string
	switch {
	case scope.IsInstance() && m.Scoped.Len() == 0:
		return "expected Storage instance to have stored " + fileStr + f.withOptions(opts, p.Expected) + " but it did not store any files at all"
	case m.Scoped.Len() == 0:
		return "expected " + fileStr + " to have been stored" + f.withOptionsOrComma(opts) + " but no files were stored at all"
	case scope.IsInstance():
		head = "expected Storage instance to have stored " + fileStr + f.withOptions(opts, p.Expected) + " but it did not"
	default:
		head = "expected " + fileStr + " to have been stored" + f.withOptionsOrComma(opts) + " but it was not"
	}

	blocks := make([]string, 0, m.Scoped.Len())
	for _, ev := range m.Scoped.Events() {
		blocks = append(blocks, f.entryBlock(p.Received(ev.Descriptor.Name), opts, ev))
	}
	return head + "\n\nStored files were:\n\n" + strings.Join(blocks, "\n")
}

// StoredVersion formats the outcome of a stored-version query.
func (f Formatter) StoredVersion(scope match.Scope, file string, opts match.Options, m match.VersionMatch) string {
	p := f.Printer
	fileStr := p.Expected(file)
	versionStr := p.Expected(m.Slug)
	withOpts := f.withOptions(opts, p.Expected)

	if m.Matched {
		if scope.IsInstance() {
			return "expected Storage instance not to have stored version " + versionStr + " of " + fileStr + withOpts + " but it did"
		}
		return "expected version " + versionStr + " of " + fileStr + " not to have been stored" + withOpts + " but it was"
	}

	var head string
	if scope.IsInstance() {
		head = "expected Storage instance to have stored version " + versionStr + " of " + fileStr + withOpts + " but"
		switch m.Tier {
		case match.TierNothingRecorded:
			return head + " it did not store any files at all"
		case match.TierBaseMissing:
			return head + " " + fileStr + " was not even stored"
		case match.TierNoVariants:
			return head + " not a single version was generated for that file"
		}
		head += " it did not"
	} else {
		head = "expected version " + versionStr + " of " + fileStr + " to have been stored"
		switch m.Tier {
		case match.TierNothingRecorded:
			return head + f.withOptionsOrComma(opts) + " but no files were stored at all"
		case match.TierBaseMissing:
			return head + withOpts + " but " + fileStr + " was not even stored"
		case match.TierNoVariants:
			return head + withOpts + " but not a single version was generated for that file"
		}
		head += f.withOptionsOrComma(opts) + " but it was not"
	}

	blocks := make([]string, 0, m.Variants.Len())
	for _, ev := range m.Variants.Events() {
		blocks = append(blocks, f.entryBlock(p.Received(f.Codec.SlugOf(ev.Key)), opts, ev))
	}
	return head + "\n\nStored versions were:\n\n" + strings.Join(blocks, "\n")
}

// Disposed formats the outcome of a disposed-key query.
func (f Formatter) Disposed(scope match.Scope, key string, m match.DisposedMatch) string {
	p := f.Printer
	keyStr := p.Expected(key)
	if m.Matched {
		if scope.IsInstance() {
			return "expected Storage instance not to have disposed " + keyStr + " but it did"
		}
		return "expected " + keyStr + " not to have been disposed but it was"
	}

	var head string
	switch {
	case scope.IsInstance() && m.Candidates.Len() == 0:
		return "expected Storage instance to have disposed " + keyStr + " but it did not dispose any keys at all"
	case m.Candidates.Len() == 0:
		return "expected " + keyStr + " to have been disposed but no keys were disposed at all"
	case scope.IsInstance():
		head = "expected Storage instance to have disposed " + keyStr + " but it did not"
	default:
		head = "expected " + keyStr + " to have been disposed but it was not"
	}

	lines := make([]string, 0, m.Candidates.Len())
	for _, ev := range m.Candidates.Events() {
		lines = append(lines, p.Received(ev.Key+" -> "+ev.Descriptor.Name))
	}
	return head + "\n\nDisposed keys were:\n\n" + strings.Join(lines, "\n")
}

// DisposedVersion formats the outcome of a disposed-version query.
func (f Formatter) DisposedVersion(scope match.Scope, key string, m match.VersionMatch) string {
	p := f.Printer
	keyStr := p.Expected(key)
	versionStr := p.Expected(m.Slug)

	if m.Matched {
		if scope.IsInstance() {
			return "expected Storage instance not to have disposed version " + versionStr + " of " + keyStr + " but it did"
		}
		return "expected version " + versionStr + " of " + keyStr + " not to have been disposed but it was"
	}

	var head string
	if scope.IsInstance() {
		head = "expected Storage instance to have disposed version " + versionStr + " of " + keyStr + " but it did not"
		switch m.Tier {
		case match.TierNothingRecorded:
			return head + " dispose any keys at all"
		case match.TierNoVariants:
			return head + " dispose any versions for that key"
		}
	} else {
		head = "expected version " + versionStr + " of " + keyStr + " to have been disposed but"
		switch m.Tier {
		case match.TierNothingRecorded:
			return head + " no files were disposed at all"
		case match.TierNoVariants:
			return head + " no versions were disposed for that key"
		}
		head += " it was not"
	}

	lines := make([]string, 0, m.Variants.Len())
	for _, ev := range m.Variants.Events() {
		lines = append(lines, p.Received(DiffStrings(m.Slug, f.Codec.SlugOf(ev.Key))))
	}
	return head + "\n\nDisposed versions were:\n\n" + strings.Join(lines, "\n")
}

func (f Formatter) entryBlock(label string, opts match.Options, ev eventlog.Event) string {
	if opts == nil {
		return label
	}
	recorded := ev.Options
	if recorded == nil {
		recorded = match.Options{}
	}
	return label + "\nOptions:\n\n" + Diff(opts, recorded)
}

func (f Formatter) withOptions(opts match.Options, print func(any) string) string {
	if opts == nil {
		return ""
	}
	return " with options " + print(opts)
}

// withOptionsOrComma renders " with options O" or, without options, the
// comma the global wording uses before "but".
func (f Formatter) withOptionsOrComma(opts match.Options) string {
	if opts == nil {
		return ","
	}
	return f.withOptions(opts, f.Printer.Expected)
}
