package storetest

import (
	"context"
	"testing"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/match"
)

// TestingT is the subset of testing.TB the fluent assertions report through.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// Expectation binds a checker to a test.
type Expectation struct {
	t       TestingT
	checker *Checker
}

// Expect starts a fluent assertion.
func Expect(t TestingT, checker *Checker) *Expectation {
	return &Expectation{t: t, checker: checker}
}

// That selects the storage scope the assertion applies to.
func (e *Expectation) That(scope match.Scope) *Assertion {
	return &Assertion{t: e.t, checker: e.checker, scope: scope}
}

// Assertion is a scoped, optionally negated assertion.
type Assertion struct {
	t       TestingT
	checker *Checker
	scope   match.Scope
	negate  bool
}

// Not returns the negated assertion.
func (a *Assertion) Not() *Assertion {
	n := *a
	n.negate = !a.negate
	return &n
}

// ToHaveStored asserts file was stored. At most one options map is used.
func (a *Assertion) ToHaveStored(file string, opts ...match.Options) bool {
	a.t.Helper()
	return a.report(a.checker.HaveStored(a.scope, file, first(opts)))
}

// ToHaveStoredVersion asserts version v of file was stored.
func (a *Assertion) ToHaveStoredVersion(file string, v blob.VersionDescriptor, opts ...match.Options) bool {
	a.t.Helper()
	return a.report(a.checker.HaveStoredVersion(a.scope, file, v, first(opts)))
}

// ToHaveDisposed asserts key was disposed.
func (a *Assertion) ToHaveDisposed(key string) bool {
	a.t.Helper()
	return a.report(a.checker.HaveDisposed(a.scope, key))
}

// ToHaveDisposedVersion asserts version v of key was disposed.
func (a *Assertion) ToHaveDisposedVersion(key string, v blob.VersionDescriptor) bool {
	a.t.Helper()
	return a.report(a.checker.HaveDisposedVersion(a.scope, key, v))
}

func (a *Assertion) report(r Result) bool {
	a.t.Helper()
	if a.negate {
		r = r.Not()
	}
	if !r.Pass {
		a.t.Errorf("%s", r.Message())
	}
	return r.Pass
}

func first(opts []match.Options) match.Options {
	if len(opts) == 0 {
		return nil
	}
	return opts[0]
}

// Setup clears engine's log and payloads now and again when t finishes.
func Setup(t testing.TB, engine *blob.TestEngine) {
	t.Helper()
	if err := engine.Reset(); err != nil {
		t.Fatalf("reset test engine: %v", err)
	}
	t.Cleanup(func() {
		if err := engine.Reset(); err != nil {
			t.Errorf("reset test engine: %v", err)
		}
	})
}

// ArchiveOnFailure saves engine's log into archive under the test name when t
// fails. Call it after Setup so the log is archived before it is cleared.
func ArchiveOnFailure(t testing.TB, engine *blob.TestEngine, archive *eventlog.Archive) {
	t.Helper()
	t.Cleanup(func() {
		if !t.Failed() {
			return
		}
		if err := engine.Archive(context.Background(), archive, t.Name()); err != nil {
			t.Logf("archive event log: %v", err)
			return
		}
		t.Logf("event log archived as %q", t.Name())
	})
}
