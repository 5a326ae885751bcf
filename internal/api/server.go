package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/hiring"
	"MNEE-Nexus/internal/notify"
	"MNEE-Nexus/internal/registry"
	"MNEE-Nexus/internal/storage/mysql"
	"MNEE-Nexus/internal/web3"
	"MNEE-Nexus/pkg/logger"
)

// Hirer is the orchestrator surface driven by the API.
type Hirer interface {
	Select(agentID string)
	ClearSelection()
	Selection() string
	Dispatch(ctx context.Context) (hiring.Attempt, error)
	State() hiring.Snapshot
}

// Feed is the notification log read by the API.
type Feed interface {
	Entries(limit int) []notify.Entry
	Completions(limit int) []notify.Completion
	Subscribe(buffer int) (<-chan notify.Entry, func())
}

// Directory lists the registered agents.
type Directory interface {
	Agents() []registry.AgentIdentity
}

// AllowanceReader reads the token allowance granted to the escrow.
type AllowanceReader interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// HTTPObserver records served requests.
type HTTPObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Server 负责暴露 REST 与 WebSocket 接口，供操作员驱动雇佣流程。
type Server struct {
	addr      string
	hirer     Hirer
	feed      Feed
	directory Directory

	journal   mysql.AttemptRepository
	allowance AllowanceReader
	signers   hiring.SignerSource
	escrow    common.Address
	symbol    string
	metrics   http.Handler
	observer  HTTPObserver
	guard     func(http.Handler) http.Handler
	logger    *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithJournal serves /api/v1/attempts from repo.
func WithJournal(repo mysql.AttemptRepository) Option {
	return func(s *Server) { s.journal = repo }
}

// WithAllowance serves /api/v1/allowance. When the query carries no owner
// the address of the configured wallet is used.
func WithAllowance(reader AllowanceReader, signers hiring.SignerSource, escrow common.Address, symbol string) Option {
	return func(s *Server) {
		s.allowance = reader
		s.signers = signers
		s.escrow = escrow
		if symbol != "" {
			s.symbol = symbol
		}
	}
}

// WithMetrics mounts handler on /metrics and records request metrics.
func WithMetrics(handler http.Handler, observer HTTPObserver) Option {
	return func(s *Server) {
		s.metrics = handler
		s.observer = observer
	}
}

// WithAuth wraps every route except /metrics in guard.
func WithAuth(guard func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.guard = guard }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, hirer Hirer, feed Feed, directory Directory, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		hirer:     hirer,
		feed:      feed,
		directory: directory,
		symbol:    "MNEE",
		logger:    logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "/api/v1/selection", s.handleSelection)
	s.handle(mux, "/api/v1/hire", s.handleHire)
	s.handle(mux, "/api/v1/state", s.handleState)
	s.handle(mux, "/api/v1/logs", s.handleLogs)
	s.handle(mux, "/api/v1/completions", s.handleCompletions)
	s.handle(mux, "/api/v1/attempts", s.handleAttempts)
	s.handle(mux, "/api/v1/agents", s.handleAgents)
	s.handle(mux, "/api/v1/allowance", s.handleAllowance)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	var api http.Handler = mux
	if s.guard != nil {
		api = s.guard(mux)
	}
	if s.metrics == nil {
		return api
	}
	root := http.NewServeMux()
	root.Handle("/metrics", s.metrics)
	root.Handle("/", api)
	return root
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type selectionRequest struct {
	AgentID string `json:"agent_id"`
}

type selectionResponse struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, selectionResponse{AgentID: s.hirer.Selection()})
	case http.MethodPut, http.MethodPost:
		var req selectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
			return
		}
		agentID := strings.TrimSpace(req.AgentID)
		if agentID == "" {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "agent_id 不能为空")
			return
		}
		s.hirer.Select(agentID)
		writeJSON(w, http.StatusOK, selectionResponse{AgentID: s.hirer.Selection()})
	case http.MethodDelete:
		s.hirer.ClearSelection()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET/PUT/DELETE")
	}
}

func (s *Server) handleHire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 POST")
		return
	}
	if s.hirer.Selection() == "" {
		writeError(w, http.StatusBadRequest, string(hiring.CodeNoAgentSelected), "No agent selected")
		return
	}
	attempt, err := s.hirer.Dispatch(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hiring.ErrBusy) {
			status = http.StatusConflict
		}
		writeCodedError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attempt)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	writeJSON(w, http.StatusOK, s.hirer.State())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	writeJSON(w, http.StatusOK, s.feed.Entries(parseLimit(r, 0)))
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	writeJSON(w, http.StatusOK, s.feed.Completions(parseLimit(r, 0)))
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "雇佣记录未启用")
		return
	}
	records, err := s.journal.ListLatest(r.Context(), parseLimit(r, 20))
	if err != nil {
		s.logger.Warn("查询雇佣记录失败", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, string(xerrors.CodeStorageFailure), err.Error())
		return
	}
	if records == nil {
		records = []mysql.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type agentView struct {
	ID        string `json:"id"`
	Worker    string `json:"worker"`
	Wage      string `json:"wage"`
	Color     string `json:"color,omitempty"`
	Role      string `json:"role,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	agents := s.directory.Agents()
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, agentView{
			ID:        a.ID,
			Worker:    a.Worker.Hex(),
			Wage:      web3.FormatUnits(a.Wage, web3.TokenDecimals),
			Color:     a.Color,
			Role:      a.Role,
			Specialty: a.Specialty,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type allowanceView struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Symbol  string `json:"symbol"`
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, methodNotAllowed, "仅支持 GET")
		return
	}
	if s.allowance == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "额度查询未启用")
		return
	}

	var owner common.Address
	if raw := strings.TrimSpace(r.URL.Query().Get("owner")); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "owner 不是合法地址")
			return
		}
		owner = common.HexToAddress(raw)
	} else {
		if s.signers == nil {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "缺少 owner 参数")
			return
		}
		signer, err := s.signers.Signer(r.Context())
		if err != nil {
			writeCodedError(w, http.StatusServiceUnavailable, err)
			return
		}
		owner = signer.Address
	}

	amount, err := s.allowance.Allowance(r.Context(), owner, s.escrow)
	if err != nil {
		s.logger.Warn("查询额度失败", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, string(xerrors.CodeChainFailure), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, allowanceView{
		Owner:   owner.Hex(),
		Spender: s.escrow.Hex(),
		Amount:  web3.FormatUnits(amount, web3.TokenDecimals),
		Symbol:  s.symbol,
	})
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	if s.observer == nil {
		mux.HandleFunc(pattern, fn)
		return
	}
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		fn(rec, r)
		s.observer.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

const methodNotAllowed = "METHOD_NOT_ALLOWED"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeCodedError(w http.ResponseWriter, status int, err error) {
	if coded, ok := xerrors.From(err); ok {
		writeError(w, status, string(coded.Code()), coded.Message())
		return
	}
	writeError(w, status, string(xerrors.CodeUnknown), err.Error())
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
