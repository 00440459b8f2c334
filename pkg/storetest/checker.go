// Package storetest provides assertions over the events recorded by a
// blob.TestEngine: which files and versions were stored or disposed, by which
// storage instance and with which options.
package storetest

import (
	"go.uber.org/zap"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/diag"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/fixture"
	"github.com/jacktea/blobcheck/pkg/match"
)

// AnyStorage scopes an assertion to every storage instance.
var AnyStorage = match.Any()

// Of scopes an assertion to the events produced by s.
func Of(s *blob.Storage) match.Scope {
	return match.Instance(s.Owner())
}

// Result is the outcome of one assertion. Message is always phrased for the
// failing polarity and is only rendered on demand.
type Result struct {
	Pass    bool
	Message func() string
}

// Not returns the negated result. The message is unchanged.
func (r Result) Not() Result {
	return Result{Pass: !r.Pass, Message: r.Message}
}

// Option configures a Checker.
type Option func(*Checker)

// WithCodec sets the key codec used to derive version keys.
func WithCodec(codec blob.Codec) Option {
	return func(c *Checker) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithPrinter sets the value printer used in messages.
func WithPrinter(p diag.Printer) Option {
	return func(c *Checker) { c.printer = p }
}

// WithLogger sets the logger used to trace evaluated assertions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Checker evaluates the storage assertions against one event log.
type Checker struct {
	log      *eventlog.Log
	fixtures *fixture.Resolver
	codec    blob.Codec
	printer  diag.Printer
	logger   *zap.Logger
}

// NewChecker returns a Checker reading log and resolving fixture files
// through fixtures.
func NewChecker(log *eventlog.Log, fixtures *fixture.Resolver, opts ...Option) *Checker {
	c := &Checker{
		log:      log,
		fixtures: fixtures,
		codec:    blob.DefaultCodec{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = eventlog.New()
	}
	if c.fixtures == nil {
		c.fixtures = fixture.NewOSResolver(".")
	}
	return c
}

// ForEngine returns a Checker over engine's log using engine's codec.
func ForEngine(engine *blob.TestEngine, fixtures *fixture.Resolver, opts ...Option) *Checker {
	opts = append([]Option{WithCodec(engine.Codec())}, opts...)
	return NewChecker(engine.Log(), fixtures, opts...)
}

func (c *Checker) formatter() diag.Formatter {
	return diag.NewFormatter(c.printer, c.codec)
}

// HaveStored asserts that file was stored in scope, with options equal to opts
// when opts is non-nil.
func (c *Checker) HaveStored(scope match.Scope, file string, opts match.Options) Result {
	sum, err := c.fixtures.Digest(file)
	if err != nil {
		return c.fileMissing(scope, file, err)
	}
	table := match.Resolve(c.log.Stored(), scope)
	m := match.WasStored(table, sum, opts)
	c.trace("stored", scope, file, m.Matched)
	f := c.formatter()
	return Result{Pass: m.Matched, Message: func() string { return f.Stored(scope, file, opts, m) }}
}

// HaveStoredVersion asserts that version v of file was stored in scope, with
// options equal to opts when opts is non-nil.
func (c *Checker) HaveStoredVersion(scope match.Scope, file string, v blob.VersionDescriptor, opts match.Options) Result {
	sum, err := c.fixtures.Digest(file)
	if err != nil {
		return c.fileMissing(scope, file, err)
	}
	table := match.Resolve(c.log.Stored(), scope)
	m := match.WasStoredVersion(table, c.codec, sum, v, opts)
	c.trace("stored-version", scope, file, m.Matched, zap.Stringer("tier", m.Tier))
	f := c.formatter()
	return Result{Pass: m.Matched, Message: func() string { return f.StoredVersion(scope, file, opts, m) }}
}

// HaveDisposed asserts that key was disposed in scope.
func (c *Checker) HaveDisposed(scope match.Scope, key string) Result {
	table := match.Resolve(c.log.Disposed(), scope)
	m := match.WasDisposedKey(table, key)
	c.trace("disposed", scope, key, m.Matched)
	f := c.formatter()
	return Result{Pass: m.Matched, Message: func() string { return f.Disposed(scope, key, m) }}
}

// HaveDisposedVersion asserts that version v of key was disposed in scope.
func (c *Checker) HaveDisposedVersion(scope match.Scope, key string, v blob.VersionDescriptor) Result {
	table := match.Resolve(c.log.Disposed(), scope)
	m := match.WasDisposedVersion(table, c.codec, key, v)
	c.trace("disposed-version", scope, key, m.Matched, zap.Stringer("tier", m.Tier))
	f := c.formatter()
	return Result{Pass: m.Matched, Message: func() string { return f.DisposedVersion(scope, key, m) }}
}

func (c *Checker) fileMissing(scope match.Scope, file string, err error) Result {
	c.logger.Debug("fixture unavailable", zap.String("file", file), zap.Error(err))
	f := c.formatter()
	return Result{Pass: false, Message: func() string { return f.FileMissing(scope, file) }}
}

func (c *Checker) trace(assertion string, scope match.Scope, subject string, matched bool, fields ...zap.Field) {
	fields = append(fields,
		zap.String("assertion", assertion),
		zap.String("subject", subject),
		zap.String("owner", string(scope.Owner())),
		zap.Bool("matched", matched),
	)
	c.logger.Debug("assertion evaluated", fields...)
}
