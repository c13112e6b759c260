package comparison

import "github.com/Lllllllleong/orderreplicationflow/internal/models"

const (
	SectionHeader = "Header"
	SectionItems  = "Items"
)

// CalculateSummary counts non-identical fields outside the excluded sets plus
// every tax difference line.
func CalculateSummary(header []models.FieldComparison, items []models.ItemComparison) models.Summary {
	var s models.Summary
	for _, f := range header {
		if !f.IsIdentical && !ExcludedHeaderFields[f.Field] {
			s.HeaderDifferences++
		}
	}
	for _, item := range items {
		for _, f := range item.Fields {
			if !f.IsIdentical && !ExcludedItemFields[f.Field] {
				s.ItemDifferences++
			}
		}
		for _, category := range models.TaxCategories {
			s.TaxDifferences += len(item.Taxes[category].Differences)
		}
	}
	s.TotalDifferences = s.HeaderDifferences + s.ItemDifferences + s.TaxDifferences

	s.SectionsWithDifferences = []string{}
	if s.HeaderDifferences > 0 {
		s.SectionsWithDifferences = append(s.SectionsWithDifferences, SectionHeader)
	}
	if s.ItemDifferences+s.TaxDifferences > 0 {
		s.SectionsWithDifferences = append(s.SectionsWithDifferences, SectionItems)
	}
	return s
}

// Compare diffs the header, the line items and their taxes of two orders.
func Compare(original, replica *models.SalesOrder) models.ComparisonResult {
	header := CompareHeaderFields(original.Header, replica.Header)
	items := CompareItemFields(original.Items, replica.Items)
	return models.ComparisonResult{
		Header:  header,
		Items:   items,
		Summary: CalculateSummary(header, items),
	}
}
