package sheet

import (
	"strings"
	"unicode"
)

type field string

const (
	fieldCustomerNumber field = "customer_number"
	fieldCustomerName   field = "customer_name"
	fieldSalesOrder     field = "sales_order_number"
	fieldContractNumber field = "contract_number"
	fieldStartDate      field = "start_date"
	fieldEndDate        field = "end_date"
	fieldInvoicing      field = "invoicing_instructions"
	fieldItemName       field = "item_name"
	fieldMonthlyRate    field = "monthly_rate"
	fieldDiscount       field = "discount_amount"
	fieldProductID      field = "product_id"
)

var columnAliases = map[field][]string{
	fieldCustomerNumber: {"customernumber", "customerno", "customerid", "kundennummer", "kundennr", "debitor", "debitornummer"},
	fieldCustomerName:   {"customername", "customer", "company", "kunde", "kundenname", "firma"},
	fieldSalesOrder:     {"salesorder", "salesordernumber", "orderno", "ordernumber", "auftrag", "auftragsnummer", "auftragsnr"},
	fieldContractNumber: {"contractnumber", "contractno", "contract", "vertragsnummer", "vertragsnr", "vertrag"},
	fieldStartDate:      {"startdate", "start", "begin", "vertragsbeginn", "beginn", "startdatum"},
	fieldEndDate:        {"enddate", "end", "vertragsende", "ende", "enddatum"},
	fieldInvoicing:      {"invoicing", "invoicinginstructions", "billingnotes", "rechnungshinweis", "abrechnung"},
	fieldItemName:       {"item", "itemname", "product", "position", "artikel", "leistung", "produkt"},
	fieldMonthlyRate:    {"monthlyrate", "monthly", "rate", "monatlich", "monatsrate", "preis", "price"},
	fieldDiscount:       {"discount", "discountamount", "rabatt"},
	fieldProductID:      {"productid", "productnumber", "artikelnummer", "artikelnr"},
}

// normalizeHeader lowercases and drops everything but letters and digits so
// "Customer No." and "customer_no" map to the same alias.
func normalizeHeader(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func mapColumns(header []string) map[field]int {
	lookup := make(map[string]field)
	for f, aliases := range columnAliases {
		for _, alias := range aliases {
			lookup[alias] = f
		}
	}
	mapping := make(map[field]int)
	for idx, col := range header {
		f, ok := lookup[normalizeHeader(col)]
		if !ok {
			continue
		}
		if _, taken := mapping[f]; taken {
			continue
		}
		mapping[f] = idx
	}
	return mapping
}

func hasRequiredColumns(mapping map[field]int) bool {
	_, name := mapping[fieldCustomerName]
	_, item := mapping[fieldItemName]
	return name && item
}
