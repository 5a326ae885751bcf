package hiring

import (
	"fmt"
	"strings"

	xerrors "MNEE-Nexus/internal/errors"
)

const (
	CodeNoAgentSelected   xerrors.Code = "NO_AGENT_SELECTED"
	CodeUserRejected      xerrors.Code = "USER_REJECTED"
	CodeTransactionFailed xerrors.Code = "TRANSACTION_FAILED"
	CodeHireInProgress    xerrors.Code = "HIRE_IN_PROGRESS"
)

func init() {
	xerrors.Register(CodeNoAgentSelected, xerrors.Attributes{
		Message:  "no agent selected",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUserRejected, xerrors.Attributes{
		Message:  "transaction rejected by wallet",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTransactionFailed, xerrors.Attributes{
		Message:  "transaction failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeHireInProgress, xerrors.Attributes{
		Message:  "a hire is already in progress",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrBusy is returned when a hire is triggered while another is in flight.
	ErrBusy = xerrors.New(CodeHireInProgress, "A hire is already in progress")
	// ErrUserRejected matches failures caused by the wallet declining to sign.
	ErrUserRejected = xerrors.New(CodeUserRejected, "transaction rejected by wallet")
	// ErrTransactionFailed matches every submission or confirmation failure.
	ErrTransactionFailed = xerrors.New(CodeTransactionFailed, "transaction failed")
)

// transactionError classifies a failed approve or createTask step. Wallet
// rejections keep a USER_REJECTED cause under the TRANSACTION_FAILED code.
func transactionError(step string, err error) *xerrors.Error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "user rejected") || strings.Contains(lower, "denied") {
		inner := xerrors.Wrap(CodeUserRejected, err, "transaction rejected by wallet")
		return xerrors.Wrap(CodeTransactionFailed, inner,
			fmt.Sprintf("%s rejected by wallet: %v", step, err),
			xerrors.WithMetadata("step", step))
	}
	return xerrors.Wrap(CodeTransactionFailed, err,
		fmt.Sprintf("%s failed: %v", step, err),
		xerrors.WithMetadata("step", step))
}
