package lsp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/go-lsp"
)

// ProgressService shows the state of background work to the user. An empty
// message marks the task as done.
type ProgressService interface {
	Progress(taskID, message string)
}

// NoopProgress drops progress reports
type NoopProgress struct{}

func (NoopProgress) Progress(taskID, message string) {}

// clientProgress sends progress reports to the client as window/logMessage.
type clientProgress struct {
	client func() Client
	logger *slog.Logger
}

// NewClientProgress returns a ProgressService that logs to whatever client
// returns at the time of the report.
func NewClientProgress(client func() Client, logger *slog.Logger) ProgressService {
	return &clientProgress{client: client, logger: ensureLogger(logger)}
}

func (p *clientProgress) Progress(taskID, message string) {
	if message == "" {
		message = "done"
	}
	err := p.client().LogMessage(context.Background(), lsp.LogMessageParams{
		Type:    lsp.MessageType(lsp.Log),
		Message: taskID + ": " + message,
	})
	if err != nil {
		p.logger.Debug("Failed to report progress", "task", taskID, "error", err)
	}
}

// reconcileTaskID names the progress task of the passes over uri.
func reconcileTaskID(uri string) string {
	return "reconcile " + uri
}

// progressListener reports every pass to a ProgressService before handing
// the event on to next.
type progressListener struct {
	next     Listener
	progress ProgressService
}

func (l progressListener) ReconcileStarted(uri string, version int) {
	l.progress.Progress(reconcileTaskID(uri), fmt.Sprintf("analyzing version %d", version))
	l.next.ReconcileStarted(uri, version)
}

func (l progressListener) ReconcileFinished(uri string, version int, state PassState) {
	l.next.ReconcileFinished(uri, version, state)
	l.progress.Progress(reconcileTaskID(uri), "")
}

func (l progressListener) ReconcileDropped(uri string, version int, state PassState) {
	l.next.ReconcileDropped(uri, version, state)
}
