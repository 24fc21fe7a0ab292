// Package api exposes the ceremony over HTTP: joining the lobby, checkin
// and admission, contribution submission, and ceremony status.
//
// Authentication is out of scope: the identity gate terminates OAuth
// elsewhere and the lobby join request carries an already-verified
// identity. Lobby endpoints authorize with the participant uid as bearer
// token, the contribute endpoint with the session id returned on
// admission.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethereum/kzg-ceremony-sequencer/ceremony"
	"github.com/ethereum/kzg-ceremony-sequencer/kzg"
	"github.com/ethereum/kzg-ceremony-sequencer/lobby"
	"github.com/ethereum/kzg-ceremony-sequencer/receipt"
	"github.com/ethereum/kzg-ceremony-sequencer/sequencer"
)

// historyReceiptCount bounds how many recent receipts the status endpoint
// returns.
const historyReceiptCount = 20

// Handler serves the ceremony API.
type Handler struct {
	engine *sequencer.Engine
	lobby  *lobby.Manager
	signer *receipt.Signer
	log    *slog.Logger

	mu       sync.Mutex
	receipts []string
}

// NewHandler creates the API handler.
func NewHandler(engine *sequencer.Engine, lobbyMgr *lobby.Manager, signer *receipt.Signer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine: engine,
		lobby:  lobbyMgr,
		signer: signer,
		log:    log,
	}
}

// RegisterRoutes registers the ceremony endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/lobby/join", h.handleJoin)
	r.Post("/lobby/try_contribute", h.handleTryContribute)
	r.Post("/contribute", h.handleContribute)
	r.Get("/info/status", h.handleStatus)
	r.Get("/info/current_state", h.handleCurrentState)
	r.Get("/info/jwt", h.handleJwtInfo)
}

// JoinRequest carries a verified identity from the identity gate.
type JoinRequest struct {
	UID              string    `json:"uid"`
	Provider         string    `json:"provider"`
	AccountCreatedAt time.Time `json:"account_created_at,omitempty"`
	TxCount          int64     `json:"tx_count,omitempty"`
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed join request")
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	id := ceremony.Identity{
		UID:              req.UID,
		Provider:         ceremony.Provider(req.Provider),
		AccountCreatedAt: req.AccountCreatedAt,
		TxCount:          req.TxCount,
	}

	err := h.lobby.Enqueue(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
	case errors.Is(err, ceremony.ErrAlreadyContributed):
		writeError(w, http.StatusBadRequest, "already contributed")
	case errors.Is(err, ceremony.ErrAlreadyQueued):
		writeError(w, http.StatusBadRequest, "already in lobby")
	case errors.Is(err, ceremony.ErrLobbyFull):
		writeError(w, http.StatusServiceUnavailable, "lobby is full")
	case errors.Is(err, ceremony.ErrNotEligible):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.log.Error("Lobby join failed", "uid", req.UID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// TryContributeResponse hands an admitted participant its session and the
// head snapshot to compute against.
type TryContributeResponse struct {
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence"`
	State     json.RawMessage `json:"state"`
	Deadline  time.Time       `json:"deadline"`
}

func (h *Handler) handleTryContribute(w http.ResponseWriter, r *http.Request) {
	uid, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.lobby.Checkin(uid); err != nil {
		switch {
		case errors.Is(err, ceremony.ErrNotInLobby):
			writeError(w, http.StatusBadRequest, "not in lobby")
		case errors.Is(err, ceremony.ErrRateLimited):
			writeError(w, http.StatusBadRequest, "call came too early. rate limited")
		default:
			h.log.Error("Checkin failed", "uid", uid, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	res, err := h.engine.Admit(r.Context(), uid)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, TryContributeResponse{
			SessionID: res.SessionID,
			Sequence:  res.Head.Sequence,
			State:     res.Head.State,
			Deadline:  res.Deadline,
		})
	case errors.Is(err, ceremony.ErrSlotFull):
		// Not an error for the participant: keep checking in.
		writeJSON(w, http.StatusOK, map[string]string{"message": "another contribution in progress"})
	case errors.Is(err, ceremony.ErrNotInLobby):
		writeError(w, http.StatusBadRequest, "not in lobby")
	default:
		h.log.Error("Admission failed", "uid", uid, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ContributeResponse reports an accepted contribution.
type ContributeResponse struct {
	Sequence uint64 `json:"sequence"`
	Receipt  string `json:"receipt"`
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	sessionID, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil || len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "missing contribution payload")
		return
	}

	res, err := h.engine.Submit(r.Context(), sessionID, payload)
	if err != nil {
		var vErr *ceremony.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, ceremony.ErrSessionNotActive):
			writeError(w, http.StatusBadRequest, "not your turn to participate")
		case errors.Is(err, ceremony.ErrComputeDeadlineExceeded):
			writeError(w, http.StatusBadRequest, "compute deadline exceeded")
		case errors.Is(err, ceremony.ErrStaleHead):
			writeError(w, http.StatusConflict, "transcript advanced during submission, ceremony has moved past you")
		default:
			h.log.Error("Contribution failed", "sessionID", sessionID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token := h.issueReceipt(res.Identity, res.Contribution)
	writeJSON(w, http.StatusOK, ContributeResponse{
		Sequence: res.Contribution.Sequence,
		Receipt:  token,
	})
}

// issueReceipt signs a receipt for a committed contribution and records
// it in the bounded history. Receipt failures are logged, never surfaced:
// the contribution is already committed.
func (h *Handler) issueReceipt(id ceremony.Identity, contrib ceremony.Contribution) string {
	witness := kzg.Witness{}
	var t kzg.Transcript
	if err := json.Unmarshal(h.engine.Head().State, &t); err == nil {
		witness = t.Witness
	}

	token, err := h.signer.Sign(id, contrib, witness)
	if err != nil {
		h.log.Error("Failed to sign receipt", "uid", contrib.UID, "err", err)
		return ""
	}

	h.mu.Lock()
	h.receipts = append(h.receipts, token)
	if len(h.receipts) > historyReceiptCount {
		h.receipts = h.receipts[len(h.receipts)-historyReceiptCount:]
	}
	h.mu.Unlock()
	return token
}

// StatusResponse summarizes ceremony progress.
type StatusResponse struct {
	LobbySize        int      `json:"lobby_size"`
	NumContributions int      `json:"num_contributions"`
	Sequence         uint64   `json:"sequence"`
	Receipts         []string `json:"receipts"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	receipts := make([]string, len(h.receipts))
	copy(receipts, h.receipts)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		LobbySize:        h.lobby.Size(),
		NumContributions: h.engine.NumContributions(),
		Sequence:         h.engine.Head().Sequence,
		Receipts:         receipts,
	})
}

func (h *Handler) handleCurrentState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.engine.Head().State)
}

func (h *Handler) handleJwtInfo(w http.ResponseWriter, r *http.Request) {
	pubPEM, err := h.signer.PublicKeyPEM()
	if err != nil {
		h.log.Error("Failed to encode receipt public key", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"alg":         "RS256",
		"rsa_pem_key": pubPEM,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
