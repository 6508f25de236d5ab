package domain

// SubmissionStatus tracks a fire-and-forget submission until a supervising
// layer reconciles it against the ledger.
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "PENDING"
	SubmissionFailed  SubmissionStatus = "FAILED"
)

// SubmissionRecord is the keeper's record of one outbound transaction.
// The ledger itself is the system of record; these records exist so that
// fire-and-forget submissions are never silently assumed confirmed.
type SubmissionRecord struct {
	TxHash      string
	Sequence    uint64
	Label       string // operation label, e.g. "force_close", "execute_order"
	Status      SubmissionStatus
	Detail      string // rejection detail for failed submissions
	SubmittedAt int64  // ms
}
