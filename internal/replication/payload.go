package replication

import (
	"strings"

	"github.com/Lllllllleong/orderreplicationflow/internal/models"
)

// ReplicatedHeaderFields are copied from the original header into the create payload.
var ReplicatedHeaderFields = []string{
	"SalesOrderType",
	"SalesOrganization",
	"DistributionChannel",
	"OrganizationDivision",
	"SalesGroup",
	"SalesOffice",
	"SoldToParty",
	"TransactionCurrency",
	"CustomerPaymentTerms",
	"PaymentMethod",
	"IncotermsClassification",
	"IncotermsLocation1",
	"ShippingCondition",
	"SDDocumentReason",
	"CustomerPurchaseOrderType",
}

// ReplicatedItemFields are copied from each original item.
var ReplicatedItemFields = []string{
	"SalesOrderItem",
	"SalesOrderItemCategory",
	"Material",
	"RequestedQuantity",
	"RequestedQuantityUnit",
	"Plant",
	"StorageLocation",
	"ShippingPoint",
	"MaterialByCustomer",
	"ItemBillingBlockReason",
}

// BuildReplicaPayload turns the original order into a deep-insert body for a
// new order. Only manually changed pricing conditions are replayed; the ERP
// derives the automatic ones again. Group conditions found on items are
// moved to the header, once per condition type.
func BuildReplicaPayload(original *models.SalesOrder, ref models.ReferenceDocument, stamp string) map[string]any {
	payload := copyFields(original.Header, ReplicatedHeaderFields)
	payload["PurchaseOrderByCustomer"] = stamp

	header := newPricingSet()
	for _, el := range original.Pricing {
		if el.ConditionIsManuallyChanged {
			header.add(el)
		}
	}

	items := make([]map[string]any, 0, len(original.Items))
	for _, item := range original.Items {
		fields := copyFields(item.Fields, ReplicatedItemFields)
		if ref.Warehouse != "" {
			fields["StorageLocation"] = ref.Warehouse
		}

		var pricing []map[string]any
		for _, el := range item.Pricing {
			if !el.ConditionIsManuallyChanged {
				continue
			}
			if el.IsGroupCondition {
				header.add(el)
				continue
			}
			pricing = append(pricing, pricingPayload(el))
		}
		if len(pricing) > 0 {
			fields["to_PricingElement"] = map[string]any{"results": pricing}
		}
		items = append(items, fields)
	}

	if len(header.elements) > 0 {
		payload["to_PricingElement"] = map[string]any{"results": header.elements}
	}
	payload["to_Item"] = map[string]any{"results": items}
	return payload
}

// runStamp derives the customer reference written on a replica.
func runStamp(executionID string) string {
	compact := strings.ReplaceAll(executionID, "-", "")
	if len(compact) > 12 {
		compact = compact[:12]
	}
	return "REPL-" + strings.ToUpper(compact)
}

func copyFields(src models.Record, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+2)
	for _, f := range fields {
		if v := src.Value(f); v.Presence == models.Present {
			out[f] = v.Value
		}
	}
	return out
}

type pricingSet struct {
	seen     map[string]bool
	elements []map[string]any
}

func newPricingSet() *pricingSet {
	return &pricingSet{seen: map[string]bool{}}
}

func (s *pricingSet) add(el models.PricingElement) {
	if s.seen[el.ConditionType] {
		return
	}
	s.seen[el.ConditionType] = true
	s.elements = append(s.elements, pricingPayload(el))
}

func pricingPayload(el models.PricingElement) map[string]any {
	out := map[string]any{"ConditionType": el.ConditionType}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("ConditionRateValue", el.ConditionRateValue)
	set("ConditionCurrency", el.ConditionCurrency)
	set("ConditionQuantity", el.ConditionQuantity)
	set("ConditionQuantityUnit", el.ConditionQuantityUnit)
	return out
}
