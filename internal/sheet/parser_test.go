package sheet

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("set row %d: %v", i+1, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParseWorkbookGroupsLineItems(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"Contract import March"},
		{"Customer No.", "Customer Name", "Sales Order", "Start Date", "Item", "Monthly Rate", "Discount"},
		{"K-100", "Acme GmbH", "SO-1", "2025-03-01", "Hosting", "100,50", ""},
		{"K-100", "Acme GmbH", "SO-1", "2025-03-01", "Backup", "20", "5"},
		{"", "Globex Ltd", "SO-2", "01.04.2025", "Support", "1.200,00", ""},
	})

	doc, err := Parse(data, "march.xlsx")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Errors) != 0 {
		t.Fatalf("expected no row errors, got %v", doc.Errors)
	}
	if len(doc.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(doc.Proposals))
	}

	acme := doc.Proposals[0]
	if acme.CustomerNumber != "K-100" || acme.SalesOrderNumber != "SO-1" {
		t.Fatalf("unexpected identifiers %+v", acme)
	}
	if len(acme.Items) != 2 {
		t.Fatalf("expected 2 items for Acme, got %d", len(acme.Items))
	}
	if acme.DiscountAmount != 5 {
		t.Fatalf("expected discount 5, got %v", acme.DiscountAmount)
	}
	if acme.TotalMonthlyRate != 115.5 {
		t.Fatalf("expected total 115.5, got %v", acme.TotalMonthlyRate)
	}
	if acme.StartDate == nil || !acme.StartDate.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date %v", acme.StartDate)
	}

	globex := doc.Proposals[1]
	if globex.Items[0].MonthlyRate != 1200 {
		t.Fatalf("expected German amount 1200, got %v", globex.Items[0].MonthlyRate)
	}
	if globex.StartDate == nil || globex.StartDate.Month() != time.April {
		t.Fatalf("unexpected German date %v", globex.StartDate)
	}
}

func TestParseCSVCollectsRowErrors(t *testing.T) {
	data := []byte("Kunde;Artikel;Monatsrate;Vertragsbeginn\n" +
		"Acme GmbH;Hosting;10,00;2025-01-01\n" +
		";Backup;5;\n" +
		"Initech;Support;abc;\n" +
		"Umbrella;Support;7;31.02.2025\n" +
		";;;\n" +
		"Hooli;Licence;1.5;\n")

	doc, err := Parse(data, "export.CSV")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(doc.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(doc.Proposals))
	}
	if len(doc.Errors) != 3 {
		t.Fatalf("expected 3 row errors, got %v", doc.Errors)
	}
	if !strings.HasPrefix(doc.Errors[0], "row 3:") {
		t.Fatalf("expected row number in error, got %q", doc.Errors[0])
	}
	if doc.Proposals[1].Items[0].MonthlyRate != 1.5 {
		t.Fatalf("expected 1.5, got %v", doc.Proposals[1].Items[0].MonthlyRate)
	}
}

func TestParseRejectsUnsupportedExtension(t *testing.T) {
	_, err := Parse([]byte("x"), "contracts.pdf")
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
}

func TestParseRejectsCorruptWorkbook(t *testing.T) {
	_, err := Parse([]byte("definitely not a zip"), "contracts.xlsx")
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestParseRequiresHeader(t *testing.T) {
	_, err := Parse([]byte("a,b\n1,2\n"), "contracts.csv")
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestParseAmountFormats(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{in: "1.234,56", want: 1234.56},
		{in: "1,234.56", want: 1234.56},
		{in: "€ 12,50", want: 12.5},
		{in: "12.5", want: 12.5},
		{in: "1,000", want: 1000},
		{in: "", want: 0},
		{in: "-3,5", want: -3.5},
	}
	for _, tc := range cases {
		got, err := parseAmount(tc.in)
		if err != nil {
			t.Errorf("parseAmount(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseAmount(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := parseAmount("n/a"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestParseDateExcelSerial(t *testing.T) {
	got, err := parseDate("45658")
	if err != nil {
		t.Fatalf("parseDate() error = %v", err)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
