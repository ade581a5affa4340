package reporting

import (
	"encoding/json"

	"threshold-lab/internal/domain"
)

// RenderJSON renders the full outcome as indented JSON.
func RenderJSON(out *domain.SearchOutcome) ([]byte, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
