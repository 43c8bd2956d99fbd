package lifecycle

import (
	"encoding/json"
	"fmt"

	"procresolver/pkg/models"
)

// DecodeAlert decodes an alert document produced by an external detector.
func DecodeAlert(data []byte) (*models.Alert, error) {
	var a models.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if a.AlertID == "" {
		return nil, fmt.Errorf("alert without alert_id")
	}
	if a.Timestamp.IsZero() {
		return nil, fmt.Errorf("alert %s without @timestamp", a.AlertID)
	}
	ids := make([]models.EntityID, 0, len(a.EntityIDs))
	for _, id := range a.EntityIDs {
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.AlertID, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("alert %s references no entity", a.AlertID)
	}
	a.EntityIDs = models.UniqueSorted(ids)
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}
