// Package comparison computes the structural diff between a reference sales
// order and the replica the ERP created from it. Everything here is pure: the
// same two documents always produce the same result.
package comparison

import (
	"fmt"

	"github.com/Lllllllleong/orderreplicationflow/internal/models"
)

// TrackedHeaderFields are compared in this order on every run.
var TrackedHeaderFields = []string{
	"SalesOrder",
	"SalesOrderType",
	"SalesOrganization",
	"DistributionChannel",
	"OrganizationDivision",
	"SalesGroup",
	"SalesOffice",
	"SoldToParty",
	"PurchaseOrderByCustomer",
	"CustomerPurchaseOrderType",
	"TransactionCurrency",
	"TotalNetAmount",
	"PricingDate",
	"ShippingCondition",
	"CompleteDeliveryIsDefined",
	"IncotermsClassification",
	"IncotermsLocation1",
	"CustomerPaymentTerms",
	"PaymentMethod",
	"CreationDate",
	"CreatedByUser",
	"LastChangeDateTime",
}

// TrackedItemFields are compared for every matched line item.
var TrackedItemFields = []string{
	"SalesOrder",
	"SalesOrderItem",
	"SalesOrderItemCategory",
	"Material",
	"MaterialByCustomer",
	"MaterialGroup",
	"RequestedQuantity",
	"RequestedQuantityUnit",
	"NetAmount",
	"TransactionCurrency",
	"Plant",
	"StorageLocation",
	"ShippingPoint",
	"IncotermsClassification",
	"ProductTaxClassification1",
	"ItemGrossWeight",
	"ItemNetWeight",
	"ItemWeightUnit",
}

// ExcludedHeaderFields always differ between an order and its replica and are
// left out of the summary counts.
var ExcludedHeaderFields = map[string]bool{
	"SalesOrder":              true,
	"PurchaseOrderByCustomer": true,
	"CreationDate":            true,
	"CreatedByUser":           true,
	"LastChangeDateTime":      true,
}

// ExcludedItemFields is the item-level counterpart of ExcludedHeaderFields.
var ExcludedItemFields = map[string]bool{
	"SalesOrder": true,
}

const (
	existenceField = "existence"
	valueExists    = "exists"
	valueMissing   = "missing"
)

// CompareHeaderFields emits one record per tracked field, identical or not.
func CompareHeaderFields(original, replica models.Record) []models.FieldComparison {
	return compareRecord(original, replica, TrackedHeaderFields, "header")
}

func compareRecord(original, replica models.Record, fields []string, prefix string) []models.FieldComparison {
	out := make([]models.FieldComparison, 0, len(fields))
	for _, field := range fields {
		o := original.Value(field)
		n := replica.Value(field)
		out = append(out, models.FieldComparison{
			Field:         field,
			OriginalValue: o.Interface(),
			NewValue:      n.Interface(),
			Path:          prefix + "." + field,
			IsIdentical:   o.Equal(n),
		})
	}
	return out
}

// CompareItemFields matches items by SalesOrderItem. Every line number present
// on either side appears exactly once in the output: originals in their order,
// then replica-only items in theirs.
func CompareItemFields(originalItems, replicaItems []models.SalesOrderItem) []models.ItemComparison {
	replicaByNumber := make(map[string]models.SalesOrderItem, len(replicaItems))
	for _, item := range replicaItems {
		if _, dup := replicaByNumber[item.Number()]; !dup {
			replicaByNumber[item.Number()] = item
		}
	}

	seen := make(map[string]bool, len(originalItems)+len(replicaItems))
	out := make([]models.ItemComparison, 0, len(originalItems))
	for _, item := range originalItems {
		number := item.Number()
		if seen[number] {
			continue
		}
		seen[number] = true

		replica, ok := replicaByNumber[number]
		if !ok {
			out = append(out, existenceComparison(number, valueExists, valueMissing))
			continue
		}
		out = append(out, models.ItemComparison{
			ItemNumber: number,
			Fields:     compareRecord(item.Fields, replica.Fields, TrackedItemFields, itemPath(number)),
			Taxes:      CompareItemTaxes(item, replica),
		})
	}

	for _, item := range replicaItems {
		number := item.Number()
		if seen[number] {
			continue
		}
		seen[number] = true
		out = append(out, existenceComparison(number, valueMissing, valueExists))
	}
	return out
}

func existenceComparison(number, original, replica string) models.ItemComparison {
	return models.ItemComparison{
		ItemNumber: number,
		Fields: []models.FieldComparison{{
			Field:         existenceField,
			OriginalValue: original,
			NewValue:      replica,
			Path:          itemPath(number),
			IsIdentical:   false,
		}},
		Taxes: emptyTaxes(),
	}
}

func itemPath(number string) string {
	return fmt.Sprintf("items[%s]", number)
}
