// Package sheet extracts contract proposals from uploaded spreadsheets.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"billdesk/api/internal/importer"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrUnreadable          = errors.New("file content could not be read")
	ErrNoHeader            = errors.New("no header row with customer and item columns found")
	ErrNoRows              = errors.New("no importable rows found")
)

// headerScanRows bounds how far down a sheet the header row may start.
const headerScanRows = 10

// Document is the parse result: proposals in sheet order (without ids or
// match results) plus row-level problems.
type Document struct {
	Proposals []importer.Proposal
	Errors    []string
}

// Parse reads an .xlsx/.xlsm workbook or a .csv file.
func Parse(data []byte, filename string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var (
		rows [][]string
		err  error
	)
	switch ext {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(data)
	case ".csv":
		rows, err = readCSV(data)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if err != nil {
		return Document{}, err
	}
	return parseRows(rows)
}

func readWorkbook(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer file.Close()

	for _, name := range file.GetSheetList() {
		rows, err := file.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			continue
		}
		if _, _, ok := findHeader(rows); ok {
			return rows, nil
		}
	}
	return nil, ErrNoHeader
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.Comma = sniffDelimiter(data)
	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// sniffDelimiter picks ';' for files exported with a German locale.
func sniffDelimiter(data []byte) rune {
	firstLine := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		return ';'
	}
	return ','
}

func findHeader(rows [][]string) (int, map[field]int, bool) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		mapping := mapColumns(rows[i])
		if hasRequiredColumns(mapping) {
			return i, mapping, true
		}
	}
	return 0, nil, false
}

func parseRows(rows [][]string) (Document, error) {
	headerIdx, mapping, ok := findHeader(rows)
	if !ok {
		return Document{}, ErrNoHeader
	}

	doc := Document{Errors: []string{}}
	var current *importer.Proposal
	currentKey := ""
	flush := func() {
		if current == nil {
			return
		}
		current.TotalMonthlyRate = totalRate(*current)
		doc.Proposals = append(doc.Proposals, *current)
		current = nil
		currentKey = ""
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		rowNumber := i + 1
		r := row{cells: rows[i], mapping: mapping}
		if r.blank() {
			continue
		}

		customerName := r.get(fieldCustomerName)
		if customerName == "" {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: customer name is empty", rowNumber))
			continue
		}
		itemName := r.get(fieldItemName)
		if itemName == "" {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: item name is empty", rowNumber))
			continue
		}
		rate, err := parseAmount(r.get(fieldMonthlyRate))
		if err != nil {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: monthly rate: %v", rowNumber, err))
			continue
		}
		discount, err := parseAmount(r.get(fieldDiscount))
		if err != nil {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: discount: %v", rowNumber, err))
			continue
		}
		start, err := parseDate(r.get(fieldStartDate))
		if err != nil {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: start date: %v", rowNumber, err))
			continue
		}
		end, err := parseDate(r.get(fieldEndDate))
		if err != nil {
			doc.Errors = append(doc.Errors, fmt.Sprintf("row %d: end date: %v", rowNumber, err))
			continue
		}

		item := importer.LineItem{
			ItemName:    itemName,
			MonthlyRate: rate,
			ProductID:   r.get(fieldProductID),
		}

		key := groupKey(r, customerName)
		if current != nil && key != "" && key == currentKey {
			current.Items = append(current.Items, item)
			current.DiscountAmount = round2(current.DiscountAmount + discount)
			continue
		}

		flush()
		current = &importer.Proposal{
			CustomerNumber:        r.get(fieldCustomerNumber),
			CustomerName:          customerName,
			SalesOrderNumber:      r.get(fieldSalesOrder),
			ContractNumber:        r.get(fieldContractNumber),
			StartDate:             start,
			EndDate:               end,
			InvoicingInstructions: r.get(fieldInvoicing),
			Items:                 []importer.LineItem{item},
			DiscountAmount:        discount,
		}
		currentKey = key
	}
	flush()

	if len(doc.Proposals) == 0 {
		return doc, ErrNoRows
	}
	return doc, nil
}

// groupKey joins consecutive rows that belong to the same contract. Rows
// without a contract or order number always start a new proposal.
func groupKey(r row, customerName string) string {
	ref := r.get(fieldContractNumber)
	if ref == "" {
		ref = r.get(fieldSalesOrder)
	}
	if ref == "" {
		return ""
	}
	return strings.ToLower(ref + "|" + customerName)
}

func totalRate(p importer.Proposal) float64 {
	total := 0.0
	for _, item := range p.Items {
		total += item.MonthlyRate
	}
	return round2(total - p.DiscountAmount)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type row struct {
	cells   []string
	mapping map[field]int
}

func (r row) get(f field) string {
	idx, ok := r.mapping[f]
	if !ok || idx >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[idx])
}

func (r row) blank() bool {
	for _, cell := range r.cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
