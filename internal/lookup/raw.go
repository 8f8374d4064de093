package lookup

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Title is the display title of an international code. Source files carry
// it either as a plain string or as a localised object {"@value": "..."}.
type Title string

func (t *Title) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding title: %w", err)
		}
		*t = Title(s)
		return nil
	}
	var localised struct {
		Value string `json:"@value"`
	}
	if err := json.Unmarshal(data, &localised); err != nil {
		return fmt.Errorf("decoding localised title: %w", err)
	}
	*t = Title(localised.Value)
	return nil
}

// RawGlobalCode is an international classification record as found in the
// source JSON.
type RawGlobalCode struct {
	Code  string `json:"code"`
	Title Title  `json:"title"`
}

// RawUSCode is an ICD-10-CM or ICD-10-PCS record as found in the source
// JSON. Only the code and long description are used.
type RawUSCode struct {
	Code             string `json:"code"`
	RawCode          string `json:"rawCode,omitempty"`
	IsHeader         bool   `json:"isHeader,omitempty"`
	ShortDescription string `json:"shortDescription,omitempty"`
	LongDescription  string `json:"longDescription"`
}

// RawDatasets is the unparsed-to-domain form of the three classifications.
type RawDatasets struct {
	Global     []RawGlobalCode
	Diagnoses  []RawUSCode
	Procedures []RawUSCode
}

// Normalize converts raw records into domain records. Records without a code
// are dropped.
func (r *RawDatasets) Normalize() Datasets {
	d := Datasets{
		Global:     make([]GlobalCode, 0, len(r.Global)),
		Diagnoses:  make([]USDiagnosis, 0, len(r.Diagnoses)),
		Procedures: make([]USProcedure, 0, len(r.Procedures)),
	}
	for _, g := range r.Global {
		if g.Code == "" {
			continue
		}
		d.Global = append(d.Global, GlobalCode{Code: g.Code, Title: string(g.Title)})
	}
	for _, cm := range r.Diagnoses {
		if cm.Code == "" {
			continue
		}
		d.Diagnoses = append(d.Diagnoses, NewUSDiagnosis(cm.Code, cm.LongDescription))
	}
	for _, pcs := range r.Procedures {
		if pcs.Code == "" {
			continue
		}
		d.Procedures = append(d.Procedures, USProcedure{Code: pcs.Code, Description: pcs.LongDescription})
	}
	return d
}
