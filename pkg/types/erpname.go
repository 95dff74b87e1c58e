package types

import (
	"encoding/json"
	"strings"
)

// ColumnERPName holds the composite ERP name object.
const ColumnERPName = "ERP Name"

// NoPartNumber is entered when a component has no manufacturer part number.
const NoPartNumber = "NO-PN"

// ERPName is the structured item name. FullName is the displayed value; the
// other fields are its underscore-separated components.
type ERPName struct {
	FullName             string `json:"full_name"`
	Type                 string `json:"type"`
	PartNumber           string `json:"part_number"`
	AdditionalParameters string `json:"additional_parameters"`
}

// ParseERPName splits "Type_PN_Details" on the first two underscores. Any
// further underscores stay in the details part.
func ParseERPName(full string) ERPName {
	n := ERPName{FullName: full}
	if full == "" {
		return n
	}
	parts := strings.SplitN(full, "_", 3)
	n.Type = parts[0]
	if len(parts) > 1 {
		n.PartNumber = parts[1]
	}
	if len(parts) > 2 {
		n.AdditionalParameters = parts[2]
	}
	return n
}

// Compose rebuilds FullName from the non-empty components and returns the
// updated name.
func (n ERPName) Compose() ERPName {
	var parts []string
	for _, p := range []string{n.Type, n.PartNumber, n.AdditionalParameters} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	n.FullName = strings.Join(parts, "_")
	return n
}

// HyphenateUnderscores replaces underscores inside the components with
// hyphens so they survive a later ParseERPName, then recomposes.
func (n ERPName) HyphenateUnderscores() ERPName {
	n.Type = strings.ReplaceAll(n.Type, "_", "-")
	n.PartNumber = strings.ReplaceAll(n.PartNumber, "_", "-")
	n.AdditionalParameters = strings.ReplaceAll(n.AdditionalParameters, "_", "-")
	return n.Compose()
}

// IsZero reports whether every component is empty.
func (n ERPName) IsZero() bool {
	return n == ERPName{}
}

// DecodeERPName reads an ERP name from its persisted encoding. Plain strings
// are accepted and parsed; anything else yields the zero name.
func DecodeERPName(raw json.RawMessage) ERPName {
	if len(raw) == 0 {
		return ERPName{}
	}
	var n ERPName
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseERPName(s)
	}
	return ERPName{}
}
