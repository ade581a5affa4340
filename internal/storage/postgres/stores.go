package postgres

import "threshold-lab/internal/storage"

// NewStores returns the relational stores on pool. Evaluations is left nil;
// evaluation analytics live in ClickHouse.
func NewStores(pool *Pool) storage.Stores {
	return storage.Stores{
		Runs:       NewRunStore(pool),
		Rounds:     NewRoundStore(pool),
		Variables:  NewVariableOutcomeStore(pool),
		TopResults: NewTopResultStore(pool),
	}
}
