package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"threshold-lab/internal/domain"
)

// ComputeJobID computes a deterministic job_id using SHA256.
// Formula: SHA256(formula_text|combination_key|date_range_key)
// Returns base58-encoded hash (at most 44 characters).
//
// Identical jobs share an ID within and across rounds, which is what lets the
// result cache honor evaluator idempotency.
func ComputeJobID(
	formula domain.Formula,
	combination domain.ParameterCombination,
	dateRange domain.DateRange,
) string {
	data := fmt.Sprintf("%s|%s|%s",
		formula.Text(),
		combination.Key(),
		dateRange.Key(),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeResultID computes a deterministic id for a persisted evaluation row.
// Formula: SHA256(run_id|job_id|variable|round_index)
func ComputeResultID(runID, jobID, variable string, roundIndex int) string {
	data := fmt.Sprintf("%s|%s|%s|%d", runID, jobID, variable, roundIndex)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
