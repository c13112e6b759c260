package models

import "github.com/shopspring/decimal"

// TaxCategory is one of the Brazilian tax families tracked per item.
type TaxCategory string

const (
	TaxICMS   TaxCategory = "ICMS"
	TaxICMSST TaxCategory = "ICMS_ST"
	TaxIPI    TaxCategory = "IPI"
	TaxPIS    TaxCategory = "PIS"
	TaxCOFINS TaxCategory = "COFINS"
	TaxDIFAL  TaxCategory = "DIFAL"
)

// TaxCategories is the fixed set, in reporting order.
var TaxCategories = []TaxCategory{TaxICMS, TaxICMSST, TaxIPI, TaxPIS, TaxCOFINS, TaxDIFAL}

// FieldComparison is one tracked property compared across two documents.
type FieldComparison struct {
	Field         string `json:"field"`
	OriginalValue any    `json:"originalValue"`
	NewValue      any    `json:"newValue"`
	Path          string `json:"path"`
	IsIdentical   bool   `json:"isIdentical"`
}

// TaxValues holds the four roles of a tax category. A nil pointer means the
// condition type was not present on the item at all.
type TaxValues struct {
	Rate      *decimal.Decimal `json:"rate"`
	Base      *decimal.Decimal `json:"base"`
	BaseValue *decimal.Decimal `json:"baseValue"`
	Amount    *decimal.Decimal `json:"amount"`
}

// TaxComparison is the per-item result for one tax category.
type TaxComparison struct {
	Original    TaxValues `json:"original"`
	New         TaxValues `json:"new"`
	Differences []string  `json:"differences"`
}

// ItemComparison is the field and tax diff for one line item.
type ItemComparison struct {
	ItemNumber string                        `json:"itemNumber"`
	Fields     []FieldComparison             `json:"fields"`
	Taxes      map[TaxCategory]TaxComparison `json:"taxes"`
}

// Summary counts the differences that matter for reporting.
type Summary struct {
	HeaderDifferences       int      `json:"headerDifferences"`
	ItemDifferences         int      `json:"itemDifferences"`
	TaxDifferences          int      `json:"taxDifferences"`
	TotalDifferences        int      `json:"totalDifferences"`
	SectionsWithDifferences []string `json:"sectionsWithDifferences"`
}

// ComparisonResult is the structural diff between the reference order and its replica.
type ComparisonResult struct {
	Header  []FieldComparison `json:"header"`
	Items   []ItemComparison  `json:"items"`
	Summary Summary           `json:"summary"`
}

// HeaderComparisonRow is a flattened header diff row.
type HeaderComparisonRow struct {
	ExecutionID   string `firestore:"executionId" json:"executionId"`
	Position      int    `firestore:"position" json:"position"`
	Field         string `firestore:"field" json:"field"`
	OriginalValue string `firestore:"originalValue" json:"originalValue"`
	NewValue      string `firestore:"newValue" json:"newValue"`
	IsIdentical   bool   `firestore:"isIdentical" json:"isIdentical"`
}

// ItemFieldComparisonRow is a flattened item field diff row.
type ItemFieldComparisonRow struct {
	ExecutionID   string `firestore:"executionId" json:"executionId"`
	ItemNumber    string `firestore:"itemNumber" json:"itemNumber"`
	Field         string `firestore:"field" json:"field"`
	OriginalValue string `firestore:"originalValue" json:"originalValue"`
	NewValue      string `firestore:"newValue" json:"newValue"`
	IsIdentical   bool   `firestore:"isIdentical" json:"isIdentical"`
}

// TaxComparisonRow is a flattened tax diff row.
type TaxComparisonRow struct {
	ExecutionID       string   `firestore:"executionId" json:"executionId"`
	ItemNumber        string   `firestore:"itemNumber" json:"itemNumber"`
	Category          string   `firestore:"category" json:"category"`
	OriginalRate      string   `firestore:"originalRate" json:"originalRate"`
	NewRate           string   `firestore:"newRate" json:"newRate"`
	OriginalBase      string   `firestore:"originalBase" json:"originalBase"`
	NewBase           string   `firestore:"newBase" json:"newBase"`
	OriginalBaseValue string   `firestore:"originalBaseValue" json:"originalBaseValue"`
	NewBaseValue      string   `firestore:"newBaseValue" json:"newBaseValue"`
	OriginalAmount    string   `firestore:"originalAmount" json:"originalAmount"`
	NewAmount         string   `firestore:"newAmount" json:"newAmount"`
	Differences       []string `firestore:"differences" json:"differences"`
}

// FlattenedComparison groups the three row sets written for query.
type FlattenedComparison struct {
	Header     []HeaderComparisonRow
	ItemFields []ItemFieldComparisonRow
	Taxes      []TaxComparisonRow
}
