package comparison

import (
	"fmt"

	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/shopspring/decimal"
)

// Flatten explodes a result into the header, item-field and tax row sets used
// for querying across executions.
func Flatten(executionID string, result models.ComparisonResult) models.FlattenedComparison {
	var out models.FlattenedComparison
	for i, f := range result.Header {
		out.Header = append(out.Header, models.HeaderComparisonRow{
			ExecutionID:   executionID,
			Position:      i,
			Field:         f.Field,
			OriginalValue: text(f.OriginalValue),
			NewValue:      text(f.NewValue),
			IsIdentical:   f.IsIdentical,
		})
	}
	for _, item := range result.Items {
		for _, f := range item.Fields {
			out.ItemFields = append(out.ItemFields, models.ItemFieldComparisonRow{
				ExecutionID:   executionID,
				ItemNumber:    item.ItemNumber,
				Field:         f.Field,
				OriginalValue: text(f.OriginalValue),
				NewValue:      text(f.NewValue),
				IsIdentical:   f.IsIdentical,
			})
		}
		for _, category := range models.TaxCategories {
			tax, ok := item.Taxes[category]
			if !ok {
				continue
			}
			out.Taxes = append(out.Taxes, models.TaxComparisonRow{
				ExecutionID:       executionID,
				ItemNumber:        item.ItemNumber,
				Category:          string(category),
				OriginalRate:      decimalText(tax.Original.Rate),
				NewRate:           decimalText(tax.New.Rate),
				OriginalBase:      decimalText(tax.Original.Base),
				NewBase:           decimalText(tax.New.Base),
				OriginalBaseValue: decimalText(tax.Original.BaseValue),
				NewBaseValue:      decimalText(tax.New.BaseValue),
				OriginalAmount:    decimalText(tax.Original.Amount),
				NewAmount:         decimalText(tax.New.Amount),
				Differences:       tax.Differences,
			})
		}
	}
	return out
}

func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func decimalText(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
