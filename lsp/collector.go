package lsp

import (
	"log/slog"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
)

// Publisher receives the results of a pass. The collector only calls it
// when the pass's document was still at the pass's version just before.
// The store is not locked during the call, so a publisher that must not
// show an older version after a newer one checks the version again.
type Publisher interface {
	Publish(doc recon.Snapshot, diagnostics []lsp.Diagnostic, quickfixes []Quickfix, final bool)
}

type diagnosticKey struct {
	rng      lsp.Range
	severity lsp.DiagnosticSeverity
	code     string
	message  string
}

// collector is the ProblemCollector handed to an analyzer for one pass.
// It is only used from the worker goroutine.
type collector struct {
	doc        recon.Snapshot
	store      *DocumentStore
	translator *Translator
	publisher  Publisher
	logger     *slog.Logger

	diagnostics []lsp.Diagnostic
	quickfixes  []Quickfix
	seen        map[diagnosticKey]bool

	lastPublished int
	checkpointed  bool
	ended         bool
	stale         bool
	dropped       int
}

func newCollector(doc recon.Snapshot, store *DocumentStore, translator *Translator, publisher Publisher, logger *slog.Logger) *collector {
	return &collector{
		doc:           doc,
		store:         store,
		translator:    translator,
		publisher:     publisher,
		logger:        logger,
		seen:          make(map[diagnosticKey]bool),
		lastPublished: -1,
	}
}

func (c *collector) BeginCollecting() {
	if c.ended {
		c.logger.Warn("BeginCollecting after EndCollecting ignored", "uri", c.doc.URI, "version", c.doc.Version)
		return
	}
	if c.checkpointed {
		// Restarting would publish fewer diagnostics than a checkpoint already showed.
		c.logger.Warn("BeginCollecting after a checkpoint ignored", "uri", c.doc.URI, "version", c.doc.Version)
		return
	}
	c.diagnostics = nil
	c.quickfixes = nil
	c.seen = make(map[diagnosticKey]bool)
}

func (c *collector) Accept(p recon.Problem) {
	if c.ended {
		c.logger.Warn("Problem reported after EndCollecting ignored", "uri", c.doc.URI, "code", p.Code)
		return
	}

	t, err := c.translator.Translate(c.doc, p)
	if err != nil {
		c.dropped++
		c.logger.Warn("Dropping malformed problem",
			"uri", c.doc.URI,
			"version", c.doc.Version,
			"code", p.Code,
			"offset", p.Offset,
			"length", p.Length,
			"error", err)
		return
	}
	if t.Suppressed {
		return
	}

	key := diagnosticKey{
		rng:      t.Diagnostic.Range,
		severity: t.Diagnostic.Severity,
		code:     t.Diagnostic.Code,
		message:  t.Diagnostic.Message,
	}
	if c.seen[key] {
		return
	}
	c.seen[key] = true

	c.diagnostics = append(c.diagnostics, t.Diagnostic)
	c.quickfixes = append(c.quickfixes, t.Quickfixes...)
}

func (c *collector) Checkpoint() {
	if c.ended {
		c.logger.Warn("Checkpoint after EndCollecting ignored", "uri", c.doc.URI)
		return
	}
	if len(c.diagnostics) == c.lastPublished {
		return
	}
	c.checkpointed = true
	c.publish(false)
}

func (c *collector) EndCollecting() {
	if c.ended {
		c.logger.Warn("EndCollecting called twice", "uri", c.doc.URI)
		return
	}
	c.ended = true
	c.publish(true)
}

// publish hands the current accumulation to the publisher unless the
// document moved past this pass's version.
func (c *collector) publish(final bool) {
	if c.stale {
		return
	}

	diagnostics := make([]lsp.Diagnostic, len(c.diagnostics))
	copy(diagnostics, c.diagnostics)

	var quickfixes []Quickfix
	if final {
		quickfixes = make([]Quickfix, len(c.quickfixes))
		copy(quickfixes, c.quickfixes)
	}

	if !c.store.IsCurrent(c.doc.URI, c.doc.Version) {
		c.stale = true
		c.logger.Debug("Skipping publish of stale pass", "uri", c.doc.URI, "version", c.doc.Version)
		return
	}
	c.publisher.Publish(c.doc, diagnostics, quickfixes, final)
	c.lastPublished = len(diagnostics)
}
