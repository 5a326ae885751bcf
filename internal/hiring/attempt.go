package hiring

import (
	"math/big"
	"time"

	"MNEE-Nexus/internal/storage/mysql"
	"MNEE-Nexus/internal/web3"
)

// Attempt is one run of the hiring flow. Only the orchestrator mutates it;
// callers always receive copies.
type Attempt struct {
	ID           string    `json:"id"`
	Agent        string    `json:"agent"`
	Worker       string    `json:"worker,omitempty"`
	Wage         *big.Int  `json:"wage,omitempty"`
	Phase        Phase     `json:"phase"`
	Code         string    `json:"code,omitempty"`
	Error        string    `json:"error,omitempty"`
	UserRejected bool      `json:"user_rejected,omitempty"`
	ApproveTx    string    `json:"approve_tx,omitempty"`
	DepositTx    string    `json:"deposit_tx,omitempty"`
	TaskID       *big.Int  `json:"task_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

func (a *Attempt) clone() Attempt {
	out := *a
	if a.Wage != nil {
		out.Wage = new(big.Int).Set(a.Wage)
	}
	if a.TaskID != nil {
		out.TaskID = new(big.Int).Set(a.TaskID)
	}
	return out
}

// Record converts a terminal attempt into its journal row.
func (a Attempt) Record() mysql.AttemptRecord {
	record := mysql.AttemptRecord{
		ID:        a.ID,
		Agent:     a.Agent,
		Worker:    a.Worker,
		Phase:     a.Phase.String(),
		Code:      a.Code,
		Error:     a.Error,
		ApproveTx: a.ApproveTx,
		DepositTx: a.DepositTx,
		StartedAt: a.StartedAt.UnixMilli(),
	}
	if a.Wage != nil {
		record.Wage = web3.FormatUnits(a.Wage, web3.TokenDecimals)
	}
	if a.TaskID != nil {
		record.TaskID = a.TaskID.String()
	}
	if !a.FinishedAt.IsZero() {
		record.FinishedAt = a.FinishedAt.UnixMilli()
	}
	return record
}

// Snapshot is the orchestrator state exposed to callers.
type Snapshot struct {
	Phase     Phase    `json:"phase"`
	Selection string   `json:"selection,omitempty"`
	Active    *Attempt `json:"active,omitempty"`
	Last      *Attempt `json:"last,omitempty"`
}
