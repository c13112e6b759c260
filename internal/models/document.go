package models

import "time"

// ReferenceDocument is the template order a replication run copies from.
// It is maintained by the administration screens and is read-only here.
type ReferenceDocument struct {
	ID         string         `firestore:"-" json:"id"`
	SalesOrder string         `firestore:"salesOrder" json:"salesOrder"`
	Domain     string         `firestore:"domain,omitempty" json:"domain,omitempty"`
	Warehouse  string         `firestore:"warehouse,omitempty" json:"warehouse,omitempty"`
	Supports   SupportedFlows `firestore:"supports" json:"supports"`
	CreatedAt  time.Time      `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
}

// SupportedFlows lists which downstream documents the template can produce.
type SupportedFlows struct {
	Contract   bool `firestore:"contract" json:"contract"`
	Quotation  bool `firestore:"quotation" json:"quotation"`
	Delivery   bool `firestore:"delivery" json:"delivery"`
	Invoice    bool `firestore:"invoice" json:"invoice"`
	FiscalNote bool `firestore:"fiscalNote" json:"fiscalNote"`
}

// Connection is the resolved ERP account for one tenant domain.
type Connection struct {
	BaseURL      string       `firestore:"baseUrl" json:"baseUrl"`
	Username     string       `firestore:"username" json:"username"`
	Password     string       `firestore:"password" json:"-"`
	Capabilities Capabilities `firestore:"capabilities" json:"capabilities"`
}

// Capabilities are the tenant-level switches for the downstream steps.
type Capabilities struct {
	Delivery bool `firestore:"delivery" json:"delivery"`
	Billing  bool `firestore:"billing" json:"billing"`
	NFe      bool `firestore:"nfe" json:"nfe"`
}
