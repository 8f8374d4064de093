// Package lookup is the medical code lookup engine. It indexes the WHO
// ICD-10 classification, the US ICD-10-CM diagnosis classification and the
// US ICD-10-PCS procedure classification, and answers condition searches,
// procedure searches and bill-to-report code conversions.
package lookup

import "strings"

// GlobalCode is an entry of the international (WHO) classification.
type GlobalCode struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// USDiagnosis is an ICD-10-CM billing code. ParentCode is the part of Code
// before its first dot.
type USDiagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	ParentCode  string `json:"parentCode"`
}

// NewUSDiagnosis builds a diagnosis and derives its parent code.
func NewUSDiagnosis(code, description string) USDiagnosis {
	return USDiagnosis{
		Code:        code,
		Description: description,
		ParentCode:  parentCode(code),
	}
}

// USProcedure is an ICD-10-PCS procedure code.
type USProcedure struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Datasets holds the three normalised classifications an Engine is built
// from.
type Datasets struct {
	Global     []GlobalCode
	Diagnoses  []USDiagnosis
	Procedures []USProcedure
}

const (
	TypeDiagnosis = "DIAGNOSIS"
	TypeProcedure = "PROCEDURE"
)

// ConditionResult is one matched international category together with the
// US billing codes filed beneath it.
type ConditionResult struct {
	Type                string        `json:"type"`
	Global              GlobalCode    `json:"global"`
	BillingOptionsCount int           `json:"billing_options_count"`
	BillingExamples     []USDiagnosis `json:"billing_examples"`
}

// ProcedureResult is one matched procedure code.
type ProcedureResult struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

const (
	StatusValid     = "VALID FOR PUBLIC REPORTING"
	StatusNoMapping = "NO MAPPING FOUND"
)

// ReportResult is the outcome of converting a billing code into a public
// health reporting code. An unmapped code is a normal result with Mapped
// set to false.
type ReportResult struct {
	OriginalBill string `json:"original_bill"`
	Mapped       bool   `json:"mapped"`
	ReportCode   string `json:"report_code,omitempty"`
	ReportTitle  string `json:"report_title,omitempty"`
	Status       string `json:"status"`
}

func parentCode(code string) string {
	if i := strings.IndexByte(code, '.'); i >= 0 {
		return code[:i]
	}
	return code
}

// bucketKey is the coarse three-character prefix used to group diagnoses.
func bucketKey(code string) string {
	if len(code) > bucketKeyLen {
		return code[:bucketKeyLen]
	}
	return code
}

const bucketKeyLen = 3
