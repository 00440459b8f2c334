package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/fixture"
	"github.com/jacktea/blobcheck/pkg/match"
	"github.com/jacktea/blobcheck/pkg/storetest"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test-1.png"), []byte("first fixture"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test-2.png"), []byte("second fixture"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	archive, err := eventlog.OpenArchive(eventlog.ArchiveConfig{Path: filepath.Join(dir, "events.db")})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	var stdout, stderr bytes.Buffer
	return &app{
		ctx:      context.Background(),
		archive:  archive,
		fixtures: fixture.NewOSResolver(dir),
		logger:   zap.NewNop(),
		stdout:   &stdout,
		stderr:   &stderr,
	}, &stdout, &stderr
}

func TestParseOptions(t *testing.T) {
	testcases := []struct {
		name  string
		pairs []string
		want  match.Options
	}{
		{"none", nil, nil},
		{"bool", []string{"private=true"}, match.Options{"private": true}},
		{"string fallback", []string{"bucket=test-bucket"}, match.Options{"bucket": "test-bucket"}},
		{"json string", []string{`bucket="x"`}, match.Options{"bucket": "x"}},
		{"number", []string{"n=2"}, match.Options{"n": float64(2)}},
		{"object", []string{`meta={"a":1}`}, match.Options{"meta": map[string]any{"a": float64(1)}}},
		{"empty value", []string{"k="}, match.Options{"k": ""}},
	}
	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOptions(tc.pairs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseOptions(%v) = %#v, want %#v", tc.pairs, got, tc.want)
			}
		})
	}
}

func TestParseOptionsInvalid(t *testing.T) {
	for _, pair := range []string{"novalue", "=x", " =x"} {
		if _, err := parseOptions([]string{pair}); err == nil {
			t.Fatalf("expected error for %q", pair)
		}
	}
}

func TestUseColor(t *testing.T) {
	if !useColor("always", os.Stderr) {
		t.Fatal("always should enable colour")
	}
	if useColor("never", os.Stderr) {
		t.Fatal("never should disable colour")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("debug logger: %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestRecordAndCheck(t *testing.T) {
	a, stdout, stderr := newTestApp(t)
	cover := blob.VersionDescriptor{Width: 100, Height: 100, Fit: blob.FitCover}

	if err := doRecord(a, "run-1", []string{"test-1.png"}, &cover, match.Options{"private": true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	keys := strings.Fields(stdout.String())
	if len(keys) != 2 || !strings.HasSuffix(keys[0], "/test-1.png") || keys[1] != keys[0]+"-V/v-100x100-cover" {
		t.Fatalf("unexpected keys %q", keys)
	}

	checker, err := a.checker("run-1")
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	if err := a.report(checker.HaveStored(storetest.AnyStorage, "test-1.png", match.Options{"private": true}), false); err != nil {
		t.Fatalf("stored check failed: %v\n%s", err, stderr.String())
	}
	if err := a.report(checker.HaveStoredVersion(storetest.AnyStorage, "test-1.png", cover, nil), false); err != nil {
		t.Fatalf("stored-version check failed: %v\n%s", err, stderr.String())
	}

	err = a.report(checker.HaveStored(storetest.AnyStorage, "test-2.png", nil), false)
	if !errors.Is(err, errExpectationFailed) {
		t.Fatalf("expected failed expectation, got %v", err)
	}
	want := "expected \"test-2.png\" to have been stored, but it was not\n\nStored files were:\n\n\"test-1.png\"\n\"test-1.png\"\n"
	if stderr.String() != want {
		t.Fatalf("unexpected message:\n%s", stderr.String())
	}

	if err := a.report(checker.HaveStored(storetest.AnyStorage, "test-2.png", nil), true); err != nil {
		t.Fatalf("negated check should pass: %v", err)
	}
}

func TestDisposedChecksAgainstSnapshot(t *testing.T) {
	a, _, stderr := newTestApp(t)
	engine, err := blob.NewTestEngine(blob.EngineOptions{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	storage := engine.NewStorage()
	key, err := storage.Store(a.ctx, blob.BlobInput{Name: "test-1.png", Data: []byte("first fixture")}, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := storage.Dispose(a.ctx, key, nil); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if err := engine.Archive(a.ctx, a.archive, "run-2"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	checker, err := a.checker("run-2")
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	if err := a.report(checker.HaveDisposed(match.Instance(storage.Owner()), key), false); err != nil {
		t.Fatalf("disposed check failed: %v\n%s", err, stderr.String())
	}
	if err := a.report(checker.HaveDisposed(match.Instance("someone-else"), key), false); err == nil {
		t.Fatal("expected check scoped to another owner to fail")
	}
	if !strings.Contains(stderr.String(), "but it did not dispose any keys at all") {
		t.Fatalf("unexpected message: %s", stderr.String())
	}
}

func TestSnapshotsAndInspect(t *testing.T) {
	a, stdout, _ := newTestApp(t)
	if err := doRecord(a, "run-3", []string{"test-2.png"}, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	stdout.Reset()

	if err := doSnapshots(a); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != "run-3" {
		t.Fatalf("unexpected snapshot list %q", stdout.String())
	}
	stdout.Reset()

	if err := doInspect(a, "run-3"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"STORED (1)", "DISPOSED (0)", "test-2.png"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}

	if _, err := a.checker("missing"); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

func TestRecordMissingFixture(t *testing.T) {
	a, _, _ := newTestApp(t)
	if err := doRecord(a, "run-4", []string{"nop.png"}, nil, nil); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestRecordAbsoluteFixturePath(t *testing.T) {
	a, stdout, stderr := newTestApp(t)
	abs := filepath.Join(t.TempDir(), "outside.png")
	if err := os.WriteFile(abs, []byte("outside fixture"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := doRecord(a, "run-abs", []string{abs}, nil, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	keys := strings.Fields(stdout.String())
	if len(keys) != 1 || !strings.HasSuffix(keys[0], "/outside.png") {
		t.Fatalf("unexpected keys %q", keys)
	}
	checker, err := a.checker("run-abs")
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	if err := a.report(checker.HaveStored(storetest.AnyStorage, abs, nil), false); err != nil {
		t.Fatalf("stored check failed: %v\n%s", err, stderr.String())
	}
}

func TestServeS3ArchivesOnShutdown(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := doServeS3(ctx, a, "served", "127.0.0.1:0", "", ""); err != nil {
		t.Fatalf("serve: %v", err)
	}
	snap, err := a.archive.Snapshot(a.ctx, "served")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Stored) != 0 || len(snap.Disposed) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if err := doServeS3(ctx, a, "bad", "127.0.0.1:0", "Not_A_Bucket", ""); err == nil {
		t.Fatal("expected error for invalid bucket name")
	}
}
