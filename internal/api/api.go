// Package api exposes the core over HTTP: REST endpoints for registration,
// staking, and claim submission, and a websocket event stream for
// dashboards.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/artfain/triad-credits/internal/node"
	"github.com/artfain/triad-credits/internal/oracle"
	"github.com/artfain/triad-credits/internal/p2p"
	"github.com/artfain/triad-credits/internal/wire"
)

// Server wires the core's operations onto net/http handlers.
type Server struct {
	node    *node.Node
	network *p2p.Network // optional; nil means gossip is disabled

	limiterMu sync.Mutex
	limiters  map[wire.Address]*rate.Limiter
}

// NewServer constructs a Server over an already-initialized node.
func NewServer(n *node.Node) *Server {
	return &Server{node: n, limiters: make(map[wire.Address]*rate.Limiter)}
}

// SetNetwork wires a claim-gossip network into the server: every claim
// accepted locally via handleSubmit is relayed to peers so their own
// verifiers learn about it without a direct submission.
func (s *Server) SetNetwork(n *p2p.Network) { s.network = n }

// limiterFor returns the per-verifier submission rate limiter, creating one
// on first use (one submission per second sustained, bursts of up to five,
// guarding against a misbehaving agent hammering the claim window).
func (s *Server) limiterFor(addr wire.Address) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 5)
		s.limiters[addr] = l
	}
	return l
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/producers", s.handleRegisterProducer)
	mux.HandleFunc("/v1/consumers", s.handleRegisterConsumer)
	mux.HandleFunc("/v1/verifiers/stake", s.handleStake)
	mux.HandleFunc("/v1/verifiers/activate", s.handleActivate)
	mux.HandleFunc("/v1/production/submit", s.handleSubmit(s.node.ProductionOracle, "production"))
	mux.HandleFunc("/v1/consumption/submit", s.handleSubmit(s.node.ConsumptionOracle, "consumption"))
	mux.HandleFunc("/v1/production/finalize", s.handleFinalize(s.node.ProductionOracle))
	mux.HandleFunc("/v1/consumption/finalize", s.handleFinalize(s.node.ConsumptionOracle))
	mux.HandleFunc("/v1/treasury/claim", s.handleClaimRewards)
	mux.HandleFunc("/v1/events", s.handleWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseHash(s string) (wire.Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return wire.Hash{}, errors.New("api: malformed hash")
	}
	var h wire.Hash
	copy(h[:], b)
	return h, nil
}

func parseAddress(s string) (wire.Address, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return wire.Address{}, errors.New("api: malformed address")
	}
	var a wire.Address
	copy(a[:], b)
	return a, nil
}

type registerRequest struct {
	Owner        string `json:"owner"`
	IdentityHash string `json:"identityHash"`
	MetaHash     string `json:"metaHash"`
	PayoutAddr   string `json:"payoutAddr"`
}

func (s *Server) handleRegisterProducer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	identity, err := parseHash(req.IdentityHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	meta, err := parseHash(req.MetaHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payout, err := parseAddress(req.PayoutAddr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.node.Registry.RegisterProducer(owner, identity, meta, payout)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"producerId": id.String()})
}

func (s *Server) handleRegisterConsumer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	identity, err := parseHash(req.IdentityHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	meta, err := parseHash(req.MetaHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payout, err := parseAddress(req.PayoutAddr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.node.Registry.RegisterConsumer(owner, identity, meta, payout)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"consumerId": id.String()})
}

type stakeRequest struct {
	Verifier string `json:"verifier"`
	Amount   uint64 `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.Verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Registry.StakeAsVerifier(addr, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "staked"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verifier string `json:"verifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.Verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Registry.ActivateVerifier(addr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type submitRequest struct {
	SubjectID    string `json:"subjectId"`
	HourID       uint64 `json:"hourId"`
	Wh           uint64 `json:"wh"`
	EvidenceRoot string `json:"evidenceRoot"`
	Signature    string `json:"signature"`
}

func (s *Server) handleSubmit(o *oracle.Oracle, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		subjectID, err := parseHash(req.SubjectID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		evidenceRoot, err := parseHash(req.EvidenceRoot)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sigHex := strings.TrimPrefix(req.Signature, "0x")
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("api: malformed signature"))
			return
		}

		digest := wire.SubmissionDigest(0, o.Self(), subjectID, req.HourID, req.Wh, evidenceRoot)
		signer, err := wire.Recover(digest, sig)
		if err == nil && !s.limiterFor(signer).Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("api: submission rate exceeded"))
			return
		}

		if err := o.Submit(subjectID, req.HourID, req.Wh, evidenceRoot, sig); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if s.network != nil {
			s.network.Broadcast(p2p.ClaimGossip{
				OracleKind: kind, SubjectID: req.SubjectID, HourID: req.HourID,
				Wh: req.Wh, EvidenceRoot: req.EvidenceRoot, Signature: req.Signature,
			})
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	}
}

type finalizeRequest struct {
	SubjectID string `json:"subjectId"`
	HourID    uint64 `json:"hourId"`
}

func (s *Server) handleFinalize(o *oracle.Oracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req finalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		subjectID, err := parseHash(req.SubjectID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := o.Finalize(subjectID, req.HourID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		claim, err := o.Claim(subjectID, req.HourID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, claim)
	}
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verifier string `json:"verifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress(req.Verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := s.node.Treasury.ClaimRewards(addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"claimed": amount})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket streams the event log to a connected dashboard: it first
// replays everything after the client's "since" query param, then pushes
// new events as they're appended.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("api: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	var after uint64
	if v := r.URL.Query().Get("since"); v != "" {
		after, _ = strconv.ParseUint(v, 10, 64)
	}

	backlog, err := s.node.EventLog.Since(after)
	if err != nil {
		slog.Error("api: event backlog", "error", err)
		return
	}
	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		after = ev.Seq
	}

	sub := s.node.EventLog.Subscribe()
	defer s.node.EventLog.Unsubscribe(sub)
	for ev := range sub {
		if ev.Seq <= after {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
