package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gophersatwork/recon"
)

// CommandDispatcher executes the quickfix command: it decodes the arguments,
// resolves the fix through the registry and hands the edit to the applier.
type CommandDispatcher struct {
	commandID string
	registry  *QuickfixRegistry
	applier   *EditApplier
	logger    *slog.Logger
}

// NewCommandDispatcher creates a dispatcher for commandID.
func NewCommandDispatcher(commandID string, registry *QuickfixRegistry, applier *EditApplier, logger *slog.Logger) *CommandDispatcher {
	return &CommandDispatcher{
		commandID: commandID,
		registry:  registry,
		applier:   applier,
		logger:    ensureLogger(logger),
	}
}

// CommandID returns the command the dispatcher answers to.
func (d *CommandDispatcher) CommandID() string {
	return d.commandID
}

// Execute runs command with args.
func (d *CommandDispatcher) Execute(ctx context.Context, command string, args []json.RawMessage) (ApplyResult, error) {
	if command != d.commandID {
		return ApplyResult{}, recon.NewProtocolError("unknown command",
			fmt.Errorf("command %q is not handled by this server", command))
	}

	qa, err := DecodeQuickfixArgs(args)
	if err != nil {
		return ApplyResult{}, err
	}

	d.logger.Debug("Executing quickfix",
		"uri", qa.Ref.URI,
		"version", qa.Ref.Version,
		"code", qa.Ref.Code,
		"kind", qa.Payload.Kind)

	edit, err := d.registry.Resolve(ctx, qa)
	if err != nil {
		return ApplyResult{}, err
	}

	result, err := d.applier.Apply(ctx, edit)
	if err != nil {
		return ApplyResult{}, err
	}

	d.logger.Info("Quickfix executed",
		"uri", qa.Ref.URI,
		"kind", qa.Payload.Kind,
		"applied", result.Applied,
		"cursor_moved", result.CursorMoved)
	return result, nil
}

// DecodeQuickfixArgs decodes the two quickfix command arguments.
func DecodeQuickfixArgs(args []json.RawMessage) (QuickfixArgs, error) {
	if len(args) != 2 {
		return QuickfixArgs{}, recon.NewProtocolError("invalid quickfix arguments",
			fmt.Errorf("expected 2 arguments, got %d", len(args)))
	}

	var qa QuickfixArgs
	if err := json.Unmarshal(args[0], &qa.Ref); err != nil {
		return QuickfixArgs{}, recon.NewProtocolError("invalid diagnostic reference", err)
	}
	if err := json.Unmarshal(args[1], &qa.Payload); err != nil {
		return QuickfixArgs{}, recon.NewProtocolError("invalid fix payload", err)
	}
	if qa.Ref.URI == "" || qa.Payload.Kind == "" {
		return QuickfixArgs{}, recon.NewProtocolError("invalid quickfix arguments",
			fmt.Errorf("missing uri or fix kind"))
	}
	return qa, nil
}
