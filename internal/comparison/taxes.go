package comparison

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/shopspring/decimal"
)

// ExtractTaxData reads the four roles of category from an item's pricing
// elements. A role whose condition type is missing stays nil; a role whose
// record exists but carries unparseable text becomes zero.
func ExtractTaxData(elements []models.PricingElement, category models.TaxCategory) models.TaxValues {
	mapping, ok := TaxMappings[category]
	if !ok {
		return models.TaxValues{}
	}
	return models.TaxValues{
		Rate:      conditionValue(elements, mapping.Rate, true),
		Base:      conditionValue(elements, mapping.Base, false),
		BaseValue: conditionValue(elements, mapping.BaseValue, false),
		Amount:    conditionValue(elements, mapping.Amount, false),
	}
}

func conditionValue(elements []models.PricingElement, conditionType string, rate bool) *decimal.Decimal {
	if conditionType == "" {
		return nil
	}
	for _, e := range elements {
		if e.ConditionType != conditionType {
			continue
		}
		raw := e.ConditionAmount
		if rate {
			raw = e.ConditionRateValue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			d = decimal.Zero
		}
		return &d
	}
	return nil
}

var taxFieldNames = [4]string{"Taxa", "Base", "Valor Base", "Valor"}

// CompareTaxData lists every role that differs as "<label> <Field>: <old> → <new>".
// Nil on both sides is equal; nil against a number is not.
func CompareTaxData(original, replica models.TaxValues, label string) []string {
	left := [4]*decimal.Decimal{original.Rate, original.Base, original.BaseValue, original.Amount}
	right := [4]*decimal.Decimal{replica.Rate, replica.Base, replica.BaseValue, replica.Amount}

	differences := []string{}
	for i := range left {
		if sameDecimal(left[i], right[i]) {
			continue
		}
		differences = append(differences, fmt.Sprintf("%s %s: %s → %s", label, taxFieldNames[i], orZero(left[i]), orZero(right[i])))
	}
	return differences
}

// CompareItemTaxes always returns all six categories.
func CompareItemTaxes(original, replica models.SalesOrderItem) map[models.TaxCategory]models.TaxComparison {
	taxes := make(map[models.TaxCategory]models.TaxComparison, len(models.TaxCategories))
	for _, category := range models.TaxCategories {
		o := ExtractTaxData(original.Pricing, category)
		n := ExtractTaxData(replica.Pricing, category)
		taxes[category] = models.TaxComparison{
			Original:    o,
			New:         n,
			Differences: CompareTaxData(o, n, TaxMappings[category].Label),
		}
	}
	return taxes
}

// emptyTaxes is the block attached to an item that exists on one side only.
func emptyTaxes() map[models.TaxCategory]models.TaxComparison {
	taxes := make(map[models.TaxCategory]models.TaxComparison, len(models.TaxCategories))
	for _, category := range models.TaxCategories {
		taxes[category] = models.TaxComparison{Differences: []string{}}
	}
	return taxes
}

func sameDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func orZero(d *decimal.Decimal) string {
	if d == nil {
		return "0"
	}
	return d.String()
}
