package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zkpoison/poisonnet/core"
	"github.com/zkpoison/poisonnet/indexer"
	"github.com/zkpoison/poisonnet/vm"
	"github.com/zkpoison/poisonnet/vm/modules/poison"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	exec    *vm.Executor
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(
	bc *core.Blockchain,
	mempool *core.Mempool,
	state core.State,
	idx *indexer.Indexer,
	exec *vm.Executor,
	chainID string,
) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, exec: exec, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getSession":
		return h.getSession(req)

	case "getSessionsByPlayer":
		return h.getSessionsByPlayer(req)

	case "simulateOpen":
		return h.simulateOpen(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

// sessionResult is the getSession reply. Found distinguishes "no such
// session yet" from an error; clients poll this while a freshly submitted
// open transaction waits for a block.
type sessionResult struct {
	Found   bool              `json:"found"`
	Session *core.GameSession `json:"session,omitempty"`
}

func (h *Handler) getSession(req Request) Response {
	var params struct {
		ID uint32 `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == 0 {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	sess, err := h.state.GetSession(params.ID)
	if errors.Is(err, core.ErrNotFound) {
		return okResponse(req.ID, sessionResult{Found: false})
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, sessionResult{Found: true, Session: sess})
}

func (h *Handler) getSessionsByPlayer(req Request) Response {
	var params struct {
		Player string `json:"player"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Player == "" {
		return errResponse(req.ID, CodeInvalidParams, "player is required")
	}
	ids, err := h.indexer.GetSessionsByPlayer(params.Player)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

// simulateOpen dry-runs a session_open payload against current state and
// returns the authorizations it would require. Nothing is mutated and no
// signatures are needed; this is the re-derivation step of the handshake.
func (h *Handler) simulateOpen(req Request) Response {
	var p core.SessionOpenPayload
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	reqs, err := poison.RequiredAuths(h.state, &p)
	if err != nil {
		return gameErrResponse(req.ID, CodeInternalError, err)
	}
	return okResponse(req.ID, map[string]any{"required_auths": reqs})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()

	// Dry-run against current state so rule violations come back to the
	// submitter as typed errors instead of vanishing during block production.
	if err := h.exec.Preflight(h.bc.Height()+1, &tx); err != nil {
		return gameErrResponse(req.ID, CodeInvalidParams, err)
	}

	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
