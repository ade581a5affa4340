package remote

import (
	"encoding/json"
	"fmt"

	"threshold-lab/internal/domain"
)

// errorKindInfrastructure marks a completion error that must abort the search.
const errorKindInfrastructure = "infrastructure"

// jobPayload is the evaluate request body. FormulaText duplicates the
// conditions in the evaluator's textual form.
type jobPayload struct {
	domain.EvaluationJob
	FormulaText string `json:"formula_text"`
}

func newJobPayload(job domain.EvaluationJob) jobPayload {
	return jobPayload{EvaluationJob: job, FormulaText: job.Formula.Text()}
}

type wsRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      uint64     `json:"id"`
	Method  string     `json:"method"`
	Params  jobPayload `json:"params"`
}

type wsEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type wsAck struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id"`
	Reason   string `json:"reason,omitempty"`
}

type wsCompletionParams struct {
	JobID  string                   `json:"job_id"`
	Result *domain.EvaluationResult `json:"result"`
	Error  string                   `json:"error,omitempty"`
	Kind   string                   `json:"kind,omitempty"`
}

type httpRequest struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      uint64       `json:"id"`
	Method  string       `json:"method"`
	Params  []jobPayload `json:"params"`
}

type httpResponse struct {
	ID     uint64                   `json:"id"`
	Result *domain.EvaluationResult `json:"result"`
	Error  *rpcError                `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
