package lsp

import (
	"context"

	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
)

// Client is the editor side of the connection as seen by the server.
type Client interface {
	PublishDiagnostics(ctx context.Context, params lsp.PublishDiagnosticsParams) error
	ApplyEdit(ctx context.Context, params ApplyWorkspaceEditParams) (ApplyWorkspaceEditResult, error)
	MoveCursor(ctx context.Context, params MoveCursorParams) (MoveCursorResult, error)
	ShowMessage(ctx context.Context, params lsp.ShowMessageParams) error
	LogMessage(ctx context.Context, params lsp.LogMessageParams) error
	RegisterCapability(ctx context.Context, params RegistrationParams) error
}

// NoopClient drops notifications and refuses edits. It is used before a
// connection exists.
type NoopClient struct{}

func (NoopClient) PublishDiagnostics(context.Context, lsp.PublishDiagnosticsParams) error { return nil }

func (NoopClient) ApplyEdit(context.Context, ApplyWorkspaceEditParams) (ApplyWorkspaceEditResult, error) {
	return ApplyWorkspaceEditResult{FailureReason: "no client connected"}, nil
}

func (NoopClient) MoveCursor(context.Context, MoveCursorParams) (MoveCursorResult, error) {
	return MoveCursorResult{}, nil
}

func (NoopClient) ShowMessage(context.Context, lsp.ShowMessageParams) error { return nil }

func (NoopClient) LogMessage(context.Context, lsp.LogMessageParams) error { return nil }

func (NoopClient) RegisterCapability(context.Context, RegistrationParams) error { return nil }

// connClient talks to the editor over a JSON-RPC connection.
type connClient struct {
	conn             *jsonrpc2.Conn
	moveCursorMethod string
}

// NewConnClient returns a Client backed by conn. Cursor movements are sent
// as requests named moveCursorMethod.
func NewConnClient(conn *jsonrpc2.Conn, moveCursorMethod string) Client {
	return &connClient{conn: conn, moveCursorMethod: moveCursorMethod}
}

func (c *connClient) PublishDiagnostics(ctx context.Context, params lsp.PublishDiagnosticsParams) error {
	return c.conn.Notify(ctx, MethodPublishDiagnostics, params)
}

func (c *connClient) ApplyEdit(ctx context.Context, params ApplyWorkspaceEditParams) (ApplyWorkspaceEditResult, error) {
	var result ApplyWorkspaceEditResult
	err := c.conn.Call(ctx, MethodApplyEdit, params, &result)
	return result, err
}

func (c *connClient) MoveCursor(ctx context.Context, params MoveCursorParams) (MoveCursorResult, error) {
	var result MoveCursorResult
	err := c.conn.Call(ctx, c.moveCursorMethod, params, &result)
	return result, err
}

func (c *connClient) ShowMessage(ctx context.Context, params lsp.ShowMessageParams) error {
	return c.conn.Notify(ctx, MethodShowMessage, params)
}

func (c *connClient) LogMessage(ctx context.Context, params lsp.LogMessageParams) error {
	return c.conn.Notify(ctx, MethodLogMessage, params)
}

func (c *connClient) RegisterCapability(ctx context.Context, params RegistrationParams) error {
	return c.conn.Call(ctx, MethodRegisterCapability, params, nil)
}
