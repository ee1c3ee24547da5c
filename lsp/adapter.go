package lsp

import (
	"context"
	"log/slog"

	"github.com/gophersatwork/recon"
)

// ApplyResult reports what happened to a resolved edit.
type ApplyResult struct {
	Applied       bool   `json:"applied"`
	CursorMoved   bool   `json:"cursorMoved"`
	FailureReason string `json:"failureReason,omitempty"`
}

// EditApplier sends resolved edits to the client and, once the client has
// applied one, moves the cursor.
type EditApplier struct {
	client func() Client
	logger *slog.Logger
}

// NewEditApplier creates an applier. client is called on every Apply so the
// applier follows connection changes.
func NewEditApplier(client func() Client, logger *slog.Logger) *EditApplier {
	return &EditApplier{client: client, logger: ensureLogger(logger)}
}

// Apply asks the client to apply edit. The cursor is only moved when the
// client confirmed the edit. A refused edit is not an error.
func (a *EditApplier) Apply(ctx context.Context, edit ResolvedEdit) (ApplyResult, error) {
	client := a.client()

	res, err := client.ApplyEdit(ctx, ApplyWorkspaceEditParams{Label: edit.Label, Edit: edit.Edit})
	if err != nil {
		return ApplyResult{}, recon.NewProtocolError("workspace/applyEdit failed", err)
	}

	result := ApplyResult{Applied: res.Applied, FailureReason: res.FailureReason}
	if !res.Applied {
		a.logger.Info("Client rejected edit", "label", edit.Label, "reason", res.FailureReason)
		return result, nil
	}

	if edit.Cursor == nil {
		return result, nil
	}

	moved, err := client.MoveCursor(ctx, MoveCursorParams{URI: edit.Cursor.URI, Position: edit.Cursor.Position})
	if err != nil {
		// The edit is already in the buffer.
		a.logger.Warn("Cursor movement failed", "uri", edit.Cursor.URI, "error", err)
		return result, nil
	}
	result.CursorMoved = moved.Moved
	return result, nil
}

func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
