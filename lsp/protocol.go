package lsp

import (
	"encoding/json"

	"github.com/sourcegraph/go-lsp"
)

// LSP protocol types not covered by github.com/sourcegraph/go-lsp

// ApplyWorkspaceEditParams are the parameters of workspace/applyEdit
type ApplyWorkspaceEditParams struct {
	Label string            `json:"label,omitempty"`
	Edit  lsp.WorkspaceEdit `json:"edit"`
}

// ApplyWorkspaceEditResult is the client's answer to workspace/applyEdit
type ApplyWorkspaceEditResult struct {
	Applied       bool   `json:"applied"`
	FailureReason string `json:"failureReason,omitempty"`
}

// MoveCursorParams are the parameters of the cursor movement request
type MoveCursorParams struct {
	URI      string       `json:"uri"`
	Position lsp.Position `json:"position"`
}

// MoveCursorResult is the client's answer to a cursor movement request
type MoveCursorResult struct {
	Moved bool `json:"moved"`
}

// ExecuteCommandParams are the parameters of workspace/executeCommand.
// Arguments stay raw so each command decodes its own shape.
type ExecuteCommandParams struct {
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// Registration is one dynamic capability registration
type Registration struct {
	ID              string      `json:"id"`
	Method          string      `json:"method"`
	RegisterOptions interface{} `json:"registerOptions,omitempty"`
}

// RegistrationParams are the parameters of client/registerCapability
type RegistrationParams struct {
	Registrations []Registration `json:"registrations"`
}

// WorkspaceFolder is a root folder opened in the client
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// WorkspaceFoldersChangeEvent describes added and removed folders
type WorkspaceFoldersChangeEvent struct {
	Added   []WorkspaceFolder `json:"added"`
	Removed []WorkspaceFolder `json:"removed"`
}

// DidChangeWorkspaceFoldersParams are the parameters of workspace/didChangeWorkspaceFolders
type DidChangeWorkspaceFoldersParams struct {
	Event WorkspaceFoldersChangeEvent `json:"event"`
}

// DidSaveTextDocumentParams are the parameters of textDocument/didSave.
// Text is only sent when the server asked for it at initialize.
type DidSaveTextDocumentParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	Text         *string                    `json:"text,omitempty"`
}

// Method names
const (
	MethodInitialize                = "initialize"
	MethodInitialized               = "initialized"
	MethodShutdown                  = "shutdown"
	MethodExit                      = "exit"
	MethodDidOpen                   = "textDocument/didOpen"
	MethodDidChange                 = "textDocument/didChange"
	MethodDidSave                   = "textDocument/didSave"
	MethodDidClose                  = "textDocument/didClose"
	MethodCodeAction                = "textDocument/codeAction"
	MethodPublishDiagnostics        = "textDocument/publishDiagnostics"
	MethodExecuteCommand            = "workspace/executeCommand"
	MethodApplyEdit                 = "workspace/applyEdit"
	MethodDidChangeWorkspaceFolders = "workspace/didChangeWorkspaceFolders"
	MethodShowMessage               = "window/showMessage"
	MethodLogMessage                = "window/logMessage"
	MethodRegisterCapability        = "client/registerCapability"
	MethodCancelRequest             = "$/cancelRequest"
)

// CodeRequestFailed is the LSP error code for a request that was understood
// but could not be carried out.
const CodeRequestFailed int64 = -32803
