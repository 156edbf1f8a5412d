package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/mempool"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/transaction"
)

const (
	maxTxBytes        = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type Options struct {
	CORSOrigins []string
	Logger      *zap.SugaredLogger
	Metrics     http.Handler // served at /metrics when set
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	router  *mux.Router
	hub     *Hub
	logger  *zap.SugaredLogger
	origins []string
	metrics http.Handler
}

func NewServer(app *exchange.App, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		logger:  logger,
		origins: origins,
		metrics: opts.Metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")

	// Token contracts
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{address}", s.handleGetToken).Methods("GET")
	api.HandleFunc("/tokens/{token}/balances/{account}", s.handleGetWalletBalance).Methods("GET")

	// Custody and orders
	api.HandleFunc("/balances/{account}", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Accounts and transactions
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/typed-data", s.handleTypedData).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetTx).Methods("GET")
	api.HandleFunc("/blocks/{height}", s.handleGetBlock).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Hub exposes the websocket hub, mainly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	info := s.app.Info()
	respondJSON(w, ExchangeInfo{
		ChainID:    info.ChainID,
		Address:    info.Address.Hex(),
		FeeAccount: info.FeeAccount.Hex(),
		FeePercent: info.FeePercent,
		OrderCount: info.OrderCount,
		Height:     info.Height,
		AppHash:    info.AppHash.Hex(),
		Pending:    s.app.PendingTxs(),
	})
}

func toTokenInfo(t exchange.TokenInfo) TokenInfo {
	return TokenInfo{
		Address:     t.Address.Hex(),
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: newAmount(t.TotalSupply),
		Custodied:   newAmount(t.Custodied),
	}
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Tokens()
	out := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		out[i] = toTokenInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	t, found := s.app.Token(addr)
	if !found {
		respondError(w, http.StatusNotFound, "token not found", addr.Hex())
		return
	}
	respondJSON(w, toTokenInfo(t))
}

func (s *Server) handleGetWalletBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	bal, found := s.app.WalletBalance(tokenAddr, account)
	if !found {
		respondError(w, http.StatusNotFound, "token not found", tokenAddr.Hex())
		return
	}
	allowance, _ := s.app.Allowance(tokenAddr, account, s.app.Info().Address)
	respondJSON(w, WalletBalance{
		Token:     tokenAddr.Hex(),
		Account:   account.Hex(),
		Balance:   newAmount(bal),
		Allowance: newAmount(allowance),
	})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}

	// ?token= narrows to a single asset, known or not
	if q := r.URL.Query().Get("token"); q != "" {
		if !common.IsHexAddress(q) {
			respondError(w, http.StatusBadRequest, "invalid token address", q)
			return
		}
		asset := common.HexToAddress(q)
		respondJSON(w, []CustodyBalance{{
			Token:   asset.Hex(),
			Balance: newAmount(s.app.CustodyBalance(asset, account)),
		}})
		return
	}

	balances := s.app.CustodyBalances(account)
	out := make([]CustodyBalance, 0, len(balances))
	for _, t := range s.app.Tokens() {
		out = append(out, CustodyBalance{
			Token:   t.Address.Hex(),
			Symbol:  t.Symbol,
			Balance: newAmount(balances[t.Address]),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.app.Order(id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondJSON(w, toOrderView(o))
}

// handleGetOrders lists orders, optionally filtered by ?status= and
// ?creator=.
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *ledger.OrderStatus
	if v := q.Get("status"); v != "" {
		st, err := ledger.ParseOrderStatus(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status", err.Error())
			return
		}
		status = &st
	}
	var creator *common.Address
	if v := q.Get("creator"); v != "" {
		if !common.IsHexAddress(v) {
			respondError(w, http.StatusBadRequest, "invalid creator address", v)
			return
		}
		addr := common.HexToAddress(v)
		creator = &addr
	}

	out := []OrderInfo{}
	for _, o := range s.app.Orders(status) {
		if creator != nil && o.Creator != *creator {
			continue
		}
		out = append(out, toOrderView(o))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := queryUint(q.Get("from"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from", err.Error())
		return
	}
	limit, err := queryUint(q.Get("limit"), defaultEventLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	if limit == 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}

	events := s.app.Events(from, int(limit))
	out := make([]EventInfo, len(events))
	for i, ev := range events {
		out[i] = toEventInfo(ev)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: s.app.Nonce(addr)})
}

// handleSubmitTx verifies a signed transaction and queues it for the next
// block. Acceptance here does not mean the tx will apply.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	id := uuid.NewString()
	call, hash, err := s.app.CheckTx(body)
	if err != nil {
		s.logger.Infow("tx_refused", "id", id, "err", err)
		respondTxError(w, err)
		return
	}

	s.logger.Infow("tx_submitted",
		"id", id,
		"tx", hash.Hex(),
		"type", call.Type,
		"from", call.From.Hex(),
		"nonce", call.Nonce,
	)
	respondStatus(w, http.StatusAccepted, SubmitTxResponse{
		ID:     id,
		TxHash: hash.Hex(),
		Type:   string(call.Type),
		From:   call.From.Hex(),
		Nonce:  call.Nonce,
		Status: "pending",
	})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	var hash abci.Hash
	if err := hash.UnmarshalText([]byte(mux.Vars(r)["hash"])); err != nil {
		respondError(w, http.StatusBadRequest, "invalid tx hash", err.Error())
		return
	}
	rc, err := s.app.TxReceipt(hash)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "transaction not found", "not yet committed or unknown")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load receipt", err.Error())
		return
	}
	respondJSON(w, TxReceipt{
		TxHash:     rc.Result.TxHash,
		Height:     rc.Height,
		Index:      rc.Index,
		Code:       rc.Result.Code,
		Log:        rc.Result.Log,
		FirstEvent: rc.Result.FirstEvent,
		EventCount: rc.Result.EventCount,
	})
}

// handleTypedData returns the eth_signTypedData_v4 payload for an unsigned
// tx, bound to this exchange's domain.
func (s *Server) handleTypedData(w http.ResponseWriter, r *http.Request) {
	var tx transaction.SignedTransaction
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTxBytes)).Decode(&tx); err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	call, err := tx.DecodeUnsigned()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	js, err := crypto.NewEIP712Signer(s.app.Domain()).ToJSON(call)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build typed data", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, js)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil || height <= 0 {
		respondError(w, http.StatusBadRequest, "invalid height", mux.Vars(r)["height"])
		return
	}
	b, results, err := s.app.Block(height)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load block", err.Error())
		return
	}
	info := BlockInfo{
		Height:  b.Height,
		Time:    b.Time,
		Hash:    b.Hash().Hex(),
		Parent:  b.Parent.Hex(),
		AppHash: b.AppHash.Hex(),
		Txs:     make([]TxReceipt, len(results)),
	}
	for i, res := range results {
		info.Txs[i] = TxReceipt{
			TxHash:     res.TxHash,
			Height:     b.Height,
			Index:      i,
			Code:       res.Code,
			Log:        res.Log,
			FirstEvent: res.FirstEvent,
			EventCount: res.EventCount,
		}
	}
	respondJSON(w, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "height": s.app.Height()})
}

// ==============================
// Broadcast (called after each commit)
// ==============================

// OnCommit pushes a committed block and its events to websocket
// subscribers. Register it with App.Subscribe.
func (s *Server) OnCommit(c exchange.Commit) {
	s.hub.BroadcastToChannel(ChannelBlocks, BlockUpdate{
		Type:    "block",
		Height:  c.Block.Height,
		Time:    c.Block.Time,
		Hash:    c.Block.Hash().Hex(),
		AppHash: c.Block.AppHash.Hex(),
		Txs:     len(c.Block.Txs),
		Events:  len(c.Events),
	})

	for _, ev := range c.Events {
		info := toEventInfo(ev)
		s.hub.BroadcastToChannel(ChannelEvents, EventUpdate{Type: "event", Channel: ChannelEvents, Height: c.Block.Height, Event: info})

		switch ev.Kind {
		case ledger.EventOrder, ledger.EventCancel, ledger.EventTrade:
			s.hub.BroadcastToChannel(ChannelOrders, EventUpdate{Type: "event", Channel: ChannelOrders, Height: c.Block.Height, Event: info})
		}

		seen := make(map[common.Address]bool, 2)
		for _, acct := range ev.Accounts() {
			if seen[acct] {
				continue
			}
			seen[acct] = true
			ch := AccountChannel(acct.Hex())
			s.hub.BroadcastToChannel(ch, EventUpdate{Type: "event", Channel: ch, Height: c.Block.Height, Event: info})
		}
	}
}

// ==============================
// Helper Functions
// ==============================

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func queryUint(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

// statusOf maps submission and ledger errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, transaction.ErrInvalidSignature), errors.Is(err, transaction.ErrSignerMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, exchange.ErrBadNonce):
		return http.StatusConflict
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrUnknownAsset):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondTxError(w http.ResponseWriter, err error) {
	respondError(w, statusOf(err), "transaction rejected", err.Error())
}

func respondLedgerError(w http.ResponseWriter, err error) {
	respondError(w, statusOf(err), http.StatusText(statusOf(err)), err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
