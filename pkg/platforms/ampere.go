package platforms

import (
	"encoding/json"
	"fmt"
)

// ampereRecord is one row of an Ampere Analytics CSV-to-JSON export
type ampereRecord struct {
	EventName   string            `json:"event_name"`
	OccurredAt  string            `json:"occurred_at"`
	Visitor     string            `json:"visitor"`
	URLPath     string            `json:"url_path"`
	ReferrerURL string            `json:"referrer_url"`
	CountryCode string            `json:"country_code"`
	Properties  map[string]string `json:"properties"`
}

// AmpereMapper maps Ampere Analytics export records
type AmpereMapper struct{}

// Platform returns "ampere"
func (m *AmpereMapper) Platform() string {
	return "ampere"
}

// Map transforms one Ampere record. event_name and occurred_at are required.
func (m *AmpereMapper) Map(raw json.RawMessage) (*MappedEvent, error) {
	var record ampereRecord
	if err := decodeStrict(raw, &record); err != nil {
		return nil, err
	}
	if record.EventName == "" {
		return nil, fmt.Errorf("%w: missing event_name", ErrInvalidRecord)
	}
	if record.OccurredAt == "" {
		return nil, fmt.Errorf("%w: missing occurred_at", ErrInvalidRecord)
	}

	return &MappedEvent{
		Name:      record.EventName,
		Timestamp: record.OccurredAt,
		VisitorID: record.Visitor,
		Pathname:  record.URLPath,
		Referrer:  record.ReferrerURL,
		Country:   record.CountryCode,
		Props:     record.Properties,
	}, nil
}
