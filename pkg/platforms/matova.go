package platforms

import (
	"encoding/json"
	"fmt"
)

// matovaRecord is one entry of a Matova JSON export. Matova nests session,
// page and geo details under sub-objects.
type matovaRecord struct {
	Type    string `json:"type"`
	TS      string `json:"ts"`
	Session struct {
		VisitorID string `json:"visitor_id"`
	} `json:"session"`
	Page struct {
		Path     string `json:"path"`
		Referrer string `json:"referrer"`
	} `json:"page"`
	Geo struct {
		Country string `json:"country"`
	} `json:"geo"`
	Meta map[string]string `json:"meta"`
}

// MatovaMapper maps Matova export records
type MatovaMapper struct{}

// Platform returns "matova"
func (m *MatovaMapper) Platform() string {
	return "matova"
}

// Map transforms one Matova record. type and ts are required.
func (m *MatovaMapper) Map(raw json.RawMessage) (*MappedEvent, error) {
	var record matovaRecord
	if err := decodeStrict(raw, &record); err != nil {
		return nil, err
	}
	if record.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidRecord)
	}
	if record.TS == "" {
		return nil, fmt.Errorf("%w: missing ts", ErrInvalidRecord)
	}

	return &MappedEvent{
		Name:      record.Type,
		Timestamp: record.TS,
		VisitorID: record.Session.VisitorID,
		Pathname:  record.Page.Path,
		Referrer:  record.Page.Referrer,
		Country:   record.Geo.Country,
		Props:     record.Meta,
	}, nil
}
