package hiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/notify"
	"MNEE-Nexus/internal/registry"
	"MNEE-Nexus/internal/storage/mysql"
	"MNEE-Nexus/internal/wallet"
	"MNEE-Nexus/internal/web3"
	"MNEE-Nexus/pkg/logger"
)

// Resolver looks up agent identities.
type Resolver interface {
	Resolve(id string) (registry.AgentIdentity, error)
}

// SignerSource acquires a signer for a single hire.
type SignerSource interface {
	Signer(ctx context.Context) (*wallet.Signer, error)
}

// Token submits spend approvals.
type Token interface {
	Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*types.Transaction, error)
}

// Escrow submits work requests.
type Escrow interface {
	Address() common.Address
	CreateTask(opts *bind.TransactOpts, worker common.Address, amount *big.Int) (*types.Transaction, error)
	TaskIDFromReceipt(receipt *types.Receipt) (*big.Int, bool)
}

// Confirmer waits until a submitted transaction is mined.
type Confirmer interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Sink receives the ordered narration.
type Sink interface {
	Append(entry notify.Entry) notify.Entry
}

// Metrics records attempt outcomes and phase latencies.
type Metrics interface {
	ObserveAttempt(phase, code string, elapsed time.Duration)
	ObservePhase(phase string, elapsed time.Duration)
}

// Dependencies groups the collaborators every orchestrator needs.
type Dependencies struct {
	Registry  Resolver
	Wallet    SignerSource
	Token     Token
	Escrow    Escrow
	Confirmer Confirmer
	Sink      Sink
}

// Orchestrator drives the approve then createTask flow. At most one attempt
// is in flight; triggers while busy are rejected with ErrBusy.
type Orchestrator struct {
	deps    Dependencies
	symbol  string
	journal mysql.AttemptRepository
	metrics Metrics
	logger  *slog.Logger
	audit   *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	selection  string
	active     *Attempt
	last       *Attempt
	phaseStart time.Time

	wg sync.WaitGroup
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithTokenSymbol sets the symbol used in narration.
func WithTokenSymbol(symbol string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(symbol) != "" {
			o.symbol = symbol
		}
	}
}

// WithJournal persists terminal attempts.
func WithJournal(repo mysql.AttemptRepository) Option {
	return func(o *Orchestrator) {
		o.journal = repo
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New validates the dependencies and returns an idle orchestrator.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("缺少智能体地址簿")
	case deps.Wallet == nil:
		return nil, errors.New("缺少钱包连接器")
	case deps.Token == nil || deps.Escrow == nil:
		return nil, errors.New("缺少合约绑定")
	case deps.Confirmer == nil:
		return nil, errors.New("缺少交易确认器")
	case deps.Sink == nil:
		return nil, errors.New("缺少通知输出")
	}
	o := &Orchestrator{
		deps:   deps,
		symbol: "MNEE",
		logger: logger.Named("hiring"),
		audit:  logger.Audit(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Select records the operator's current agent choice. It is read only when
// a hire is triggered.
func (o *Orchestrator) Select(agentID string) {
	o.mu.Lock()
	o.selection = strings.TrimSpace(agentID)
	o.mu.Unlock()
}

// ClearSelection removes the current choice.
func (o *Orchestrator) ClearSelection() {
	o.Select("")
}

// Selection returns the current choice.
func (o *Orchestrator) Selection() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection
}

// State returns the current phase with the active and last attempts.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{Phase: PhaseIdle, Selection: o.selection}
	if o.active != nil {
		active := o.active.clone()
		snap.Active = &active
		snap.Phase = active.Phase
	}
	if o.last != nil {
		last := o.last.clone()
		snap.Last = &last
	}
	return snap
}

// LastAttempt returns the most recent terminal attempt.
func (o *Orchestrator) LastAttempt() (Attempt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Attempt{}, false
	}
	return o.last.clone(), true
}

// Hire runs a full attempt for the current selection and returns it once
// terminal. The returned error is the failure cause, or ErrBusy.
func (o *Orchestrator) Hire(ctx context.Context) (Attempt, error) {
	attempt, err := o.claim()
	if err != nil {
		return Attempt{}, err
	}
	return o.execute(ctx, attempt)
}

// Dispatch claims the slot and runs the attempt in the background. The
// attempt ignores cancellation of ctx once claimed.
func (o *Orchestrator) Dispatch(ctx context.Context) (Attempt, error) {
	attempt, err := o.claim()
	if err != nil {
		return Attempt{}, err
	}
	o.mu.Lock()
	snapshot := attempt.clone()
	o.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.execute(detached, attempt)
	}()
	return snapshot, nil
}

// Wait blocks until every dispatched attempt has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) claim() (*Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		o.logger.Debug("忽略重复的雇佣请求", slog.String("active_attempt", o.active.ID))
		return nil, ErrBusy
	}
	now := o.now().UTC()
	attempt := &Attempt{
		ID:        uuid.NewString(),
		Agent:     o.selection,
		Phase:     PhaseIdle,
		StartedAt: now,
	}
	o.active = attempt
	o.phaseStart = now
	o.setPhaseLocked(attempt, PhaseValidating)
	return attempt, nil
}

func (o *Orchestrator) execute(ctx context.Context, a *Attempt) (Attempt, error) {
	if a.Agent == "" {
		return o.fail(ctx, a, xerrors.New(CodeNoAgentSelected, "No agent selected"))
	}

	identity, err := o.deps.Registry.Resolve(a.Agent)
	if err != nil {
		o.update(func() { a.Agent = registry.Normalize(a.Agent) })
		return o.fail(ctx, a, err)
	}
	o.update(func() {
		a.Agent = identity.ID
		a.Worker = identity.Worker.Hex()
		a.Wage = new(big.Int).Set(identity.Wage)
	})

	signer, err := o.deps.Wallet.Signer(ctx)
	if err != nil {
		if _, coded := xerrors.From(err); !coded {
			err = xerrors.Wrap(wallet.CodeWalletUnavailable, err, "No wallet available")
		}
		return o.fail(ctx, a, err)
	}

	wage := identity.Wage
	o.advance(a, PhaseApproving, notify.KindProgress, fmt.Sprintf(
		"INITIATING SEQUENCE FOR %s. Step 1/2: Approving %s %s...",
		strings.ToUpper(identity.ID), web3.FormatUnits(wage, web3.TokenDecimals), o.symbol))

	approveTx, err := o.deps.Token.Approve(signer.TransactOpts(ctx), o.deps.Escrow.Address(), wage)
	if err != nil {
		return o.fail(ctx, a, transactionError("approve", err))
	}
	o.update(func() { a.ApproveTx = approveTx.Hash().Hex() })
	o.audit.Info("hire_tx_submitted",
		slog.String("attempt_id", a.ID),
		slog.String("step", "approve"),
		slog.String("tx_hash", approveTx.Hash().Hex()),
		slog.String("from", signer.Address.Hex()),
	)
	if _, err := o.confirm(ctx, "approve", approveTx); err != nil {
		return o.fail(ctx, a, err)
	}
	o.advance(a, PhaseApproved, notify.KindProgress, "Approval Granted.")

	o.advance(a, PhaseDepositing, notify.KindProgress, "Step 2/2: Dispatching Agent...")
	depositTx, err := o.deps.Escrow.CreateTask(signer.TransactOpts(ctx), identity.Worker, wage)
	if err != nil {
		return o.fail(ctx, a, transactionError("createTask", err))
	}
	o.update(func() { a.DepositTx = depositTx.Hash().Hex() })
	o.audit.Info("hire_tx_submitted",
		slog.String("attempt_id", a.ID),
		slog.String("step", "createTask"),
		slog.String("tx_hash", depositTx.Hash().Hex()),
		slog.String("worker", identity.Worker.Hex()),
	)
	receipt, err := o.confirm(ctx, "createTask", depositTx)
	if err != nil {
		return o.fail(ctx, a, err)
	}

	text := "SUCCESS! Signal Sent. Awaiting Data..."
	if taskID, ok := o.deps.Escrow.TaskIDFromReceipt(receipt); ok {
		o.update(func() { a.TaskID = taskID })
		text = fmt.Sprintf("SUCCESS! Signal Sent (Task #%s). Awaiting Data...", taskID)
	}
	return o.finish(ctx, a, PhaseCompleted, notify.KindSuccess, text, nil)
}

func (o *Orchestrator) confirm(ctx context.Context, step string, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := o.deps.Confirmer.WaitMined(ctx, tx)
	if err != nil {
		return nil, transactionError(step, err)
	}
	if err := web3.CheckReceipt(receipt); err != nil {
		return nil, xerrors.Wrap(CodeTransactionFailed, err,
			fmt.Sprintf("%s failed: %v (tx %s)", step, err, tx.Hash().Hex()),
			xerrors.WithMetadata("step", step))
	}
	return receipt, nil
}

func (o *Orchestrator) fail(ctx context.Context, a *Attempt, err error) (Attempt, error) {
	message := err.Error()
	code := xerrors.CodeUnknown
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
		code = coded.Code()
	}
	o.update(func() {
		a.Code = string(code)
		a.Error = message
		a.UserRejected = errors.Is(err, ErrUserRejected)
	})
	return o.finish(ctx, a, PhaseFailed, notify.KindError, "ERROR: "+message, err)
}

// finish moves a to a terminal phase, narrates it and frees the slot.
func (o *Orchestrator) finish(ctx context.Context, a *Attempt, phase Phase, kind notify.Kind, text string, cause error) (Attempt, error) {
	o.mu.Lock()
	o.setPhaseLocked(a, phase)
	a.FinishedAt = o.now().UTC()
	o.mu.Unlock()

	o.deps.Sink.Append(notify.Entry{Kind: kind, Text: text, AttemptID: a.ID, Code: a.Code, TaskID: a.TaskID})

	o.mu.Lock()
	final := a.clone()
	o.last = &final
	o.active = nil
	o.mu.Unlock()

	elapsed := final.FinishedAt.Sub(final.StartedAt)
	if o.metrics != nil {
		o.metrics.ObserveAttempt(final.Phase.String(), final.Code, elapsed)
	}
	if o.journal != nil {
		if err := o.journal.Save(ctx, final.Record()); err != nil {
			o.logger.Warn("保存雇佣记录失败", slog.String("attempt_id", final.ID), slog.Any("error", err))
		}
	}

	attrs := []any{
		slog.String("attempt_id", final.ID),
		slog.String("agent", final.Agent),
		slog.String("phase", final.Phase.String()),
		slog.Duration("elapsed", elapsed),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("code", final.Code), slog.Any("error", cause))
		o.logger.Warn("雇佣流程失败", attrs...)
	} else {
		o.logger.Info("雇佣流程完成", attrs...)
	}
	o.audit.Info("hire_attempt_finished", attrs...)
	return final, cause
}

// advance moves a to a non-terminal phase and emits its narration.
func (o *Orchestrator) advance(a *Attempt, phase Phase, kind notify.Kind, text string) {
	o.mu.Lock()
	o.setPhaseLocked(a, phase)
	o.mu.Unlock()
	o.deps.Sink.Append(notify.Entry{Kind: kind, Text: text, AttemptID: a.ID})
}

func (o *Orchestrator) setPhaseLocked(a *Attempt, phase Phase) {
	if !a.Phase.CanTransition(phase) {
		panic(fmt.Sprintf("hiring: illegal transition %s -> %s", a.Phase, phase))
	}
	now := o.now()
	if o.metrics != nil && a.Phase != PhaseIdle {
		o.metrics.ObservePhase(a.Phase.String(), now.Sub(o.phaseStart))
	}
	o.phaseStart = now
	a.Phase = phase
}

func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}
