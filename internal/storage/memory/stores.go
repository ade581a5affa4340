package memory

import "threshold-lab/internal/storage"

// NewStores returns a fresh in-memory implementation of every store.
func NewStores() storage.Stores {
	return storage.Stores{
		Runs:        NewRunStore(),
		Rounds:      NewRoundStore(),
		Variables:   NewVariableOutcomeStore(),
		TopResults:  NewTopResultStore(),
		Evaluations: NewEvaluationResultStore(),
	}
}
