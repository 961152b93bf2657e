// Package rpc exposes ledger state and transaction submission via a
// JSON-RPC 2.0 HTTP endpoint, plus the client used by game tooling.
package rpc

import (
	"encoding/json"

	"github.com/zkpoison/poisonnet/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Data carries structured
// detail for game-rule rejections so clients never have to parse the
// message string.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured detail attached to rule-violation errors.
// GameCode is the stable numeric code; Name is its snake_case name,
// included for log readability only.
type ErrorData struct {
	GameCode uint32 `json:"game_code"`
	Name     string `json:"name"`
}

// Standard JSON-RPC error codes, plus server-defined codes in the
// -32000..-32099 range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeGameRejected   = -32050 // tx or dry-run rejected by a game rule
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// gameErrResponse builds the error response for err. Rule violations get
// CodeGameRejected with the game code in Data; anything else falls back
// to the given code with a bare message.
func gameErrResponse(id any, fallback int, err error) Response {
	if gc := core.GameCodeOf(err); gc != 0 {
		return Response{
			JSONRPC: "2.0",
			ID:      id,
			Error: &Error{
				Code:    CodeGameRejected,
				Message: err.Error(),
				Data:    &ErrorData{GameCode: uint32(gc), Name: gc.String()},
			},
		}
	}
	return errResponse(id, fallback, err.Error())
}

func okResponse(id, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(id, CodeInternalError, "marshal result: "+err.Error())
	}
	return Response{JSONRPC: "2.0", ID: id, Result: raw}
}
