package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Presence distinguishes a missing OData property from an explicit null.
type Presence int

const (
	Absent Presence = iota
	Null
	Present
)

// FieldValue is one scalar property read from an OData record.
type FieldValue struct {
	Presence Presence
	Value    any
}

// Equal is strict: no coercion between strings and numbers, and an absent
// property never equals a null or present one.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Presence != other.Presence {
		return false
	}
	if v.Presence != Present {
		return true
	}
	return reflect.DeepEqual(v.Value, other.Value)
}

// Interface returns the raw value, nil when absent or null.
func (v FieldValue) Interface() any {
	if v.Presence != Present {
		return nil
	}
	return v.Value
}

// Record holds the scalar properties of an OData entity. Numbers are kept as
// json.Number so "100.00" and "100" stay distinct.
type Record map[string]any

// Value looks up a property with its presence state.
func (r Record) Value(field string) FieldValue {
	v, ok := r[field]
	if !ok {
		return FieldValue{Presence: Absent}
	}
	if v == nil {
		return FieldValue{Presence: Null}
	}
	return FieldValue{Presence: Present, Value: v}
}

// String returns the property rendered as text, or "" when absent or null.
func (r Record) String(field string) string {
	return stringOf(r[field])
}

// SalesOrder is an A_SalesOrder entity with its expanded items and header pricing.
type SalesOrder struct {
	Header  Record
	Pricing []PricingElement
	Items   []SalesOrderItem
}

// ID returns the document number.
func (o *SalesOrder) ID() string {
	return o.Header.String("SalesOrder")
}

// SalesOrderItem is one A_SalesOrderItem with its pricing elements.
type SalesOrderItem struct {
	Fields  Record
	Pricing []PricingElement
}

// Number returns the business line number used to match items across documents.
func (i SalesOrderItem) Number() string {
	return i.Fields.String("SalesOrderItem")
}

// PricingElement is a condition record of the pricing procedure.
type PricingElement struct {
	SalesOrderItem             string `json:"SalesOrderItem,omitempty"`
	ConditionType              string `json:"ConditionType"`
	ConditionRateValue         string `json:"ConditionRateValue,omitempty"`
	ConditionAmount            string `json:"ConditionAmount,omitempty"`
	ConditionCurrency          string `json:"ConditionCurrency,omitempty"`
	ConditionQuantity          string `json:"ConditionQuantity,omitempty"`
	ConditionQuantityUnit      string `json:"ConditionQuantityUnit,omitempty"`
	ConditionIsManuallyChanged bool   `json:"ConditionIsManuallyChanged,omitempty"`
	IsGroupCondition           bool   `json:"IsGroupCondition,omitempty"`
}

// DecodeSalesOrder parses an OData V2 sales order response, with or without
// the {"d": ...} wrapper.
func DecodeSalesOrder(data []byte) (*SalesOrder, error) {
	var raw map[string]any
	if err := DecodeJSON(data, &raw); err != nil {
		return nil, fmt.Errorf("decode sales order: %w", err)
	}
	if d, ok := raw["d"].(map[string]any); ok {
		raw = d
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode sales order: empty entity")
	}

	order := &SalesOrder{Header: Record{}}
	for key, value := range raw {
		switch key {
		case "to_Item":
			for _, entry := range Results(value) {
				order.Items = append(order.Items, decodeItem(entry))
			}
		case "to_PricingElement":
			order.Pricing = decodePricing(Results(value))
		default:
			if isScalar(value) {
				order.Header[key] = value
			}
		}
	}
	return order, nil
}

func decodeItem(raw map[string]any) SalesOrderItem {
	item := SalesOrderItem{Fields: Record{}}
	for key, value := range raw {
		if key == "to_PricingElement" {
			item.Pricing = decodePricing(Results(value))
			continue
		}
		if isScalar(value) {
			item.Fields[key] = value
		}
	}
	return item
}

func decodePricing(entries []map[string]any) []PricingElement {
	elements := make([]PricingElement, 0, len(entries))
	for _, e := range entries {
		elements = append(elements, PricingElement{
			SalesOrderItem:             stringOf(e["SalesOrderItem"]),
			ConditionType:              stringOf(e["ConditionType"]),
			ConditionRateValue:         stringOf(e["ConditionRateValue"]),
			ConditionAmount:            stringOf(e["ConditionAmount"]),
			ConditionCurrency:          stringOf(e["ConditionCurrency"]),
			ConditionQuantity:          stringOf(e["ConditionQuantity"]),
			ConditionQuantityUnit:      stringOf(e["ConditionQuantityUnit"]),
			ConditionIsManuallyChanged: flagOf(e["ConditionIsManuallyChanged"]),
			IsGroupCondition:           flagOf(e["IsGroupCondition"]),
		})
	}
	return elements
}

// Results unwraps an OData repeating group: {"results": [...]} in V2 or a bare
// array in V4. Anything else yields nil.
func Results(v any) []map[string]any {
	var list []any
	switch t := v.(type) {
	case map[string]any:
		list, _ = t["results"].([]any)
	case []any:
		list = t
	}
	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// DecodeJSON decodes with json.Number preserved.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "X"
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// flagOf reads ABAP-style booleans ("X") as well as JSON booleans.
func flagOf(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "X" || t == "true"
	}
	return false
}
