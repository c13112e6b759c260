package comparison

import "github.com/Lllllllleong/orderreplicationflow/internal/models"

// TaxMapping names the pricing condition types that carry each role of a
// tax category in the ERP's Brazilian pricing procedure.
type TaxMapping struct {
	Label     string
	Rate      string
	Base      string
	BaseValue string
	Amount    string
}

// TaxMappings is keyed by category. The condition types follow the BX*
// naming of the standard TAXBRA procedure.
var TaxMappings = map[models.TaxCategory]TaxMapping{
	models.TaxICMS:   {Label: "ICMS", Rate: "BX10", Base: "BX11", BaseValue: "BX13", Amount: "BX12"},
	models.TaxICMSST: {Label: "ICMS ST", Rate: "BX40", Base: "BX41", BaseValue: "BX43", Amount: "BX42"},
	models.TaxIPI:    {Label: "IPI", Rate: "BX20", Base: "BX21", BaseValue: "BX23", Amount: "BX22"},
	models.TaxPIS:    {Label: "PIS", Rate: "BX80", Base: "BX81", BaseValue: "BX83", Amount: "BX82"},
	models.TaxCOFINS: {Label: "COFINS", Rate: "BX70", Base: "BX71", BaseValue: "BX73", Amount: "BX72"},
	models.TaxDIFAL:  {Label: "DIFAL", Rate: "BX90", Base: "BX91", BaseValue: "BX93", Amount: "BX92"},
}
