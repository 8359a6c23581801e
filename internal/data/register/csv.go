package register

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
)

// Header is the column layout of the persisted register.
var Header = []string{"serial", "issuedDate", "ownerSurname", "userId", "used"}

const (
	colSerial = iota
	colIssuedDate
	colOwnerSurname
	colUserID
	colUsed
	columnCount
)

func parseRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse register: %w", err)
	}
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}
	return rows, nil
}

func encodeRows(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode register: %w", err)
	}
	return buf.Bytes(), nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func rowToRecord(row []string) certificate.SerialRecord {
	return certificate.SerialRecord{
		Serial:       cell(row, colSerial),
		IssuedDate:   cell(row, colIssuedDate),
		OwnerSurname: cell(row, colOwnerSurname),
		UserID:       cell(row, colUserID),
		Used:         cell(row, colUsed),
	}
}

// recordToRow writes rec over row, keeping any trailing columns beyond the
// register layout.
func recordToRow(rec certificate.SerialRecord, row []string) []string {
	n := len(row)
	if n < columnCount {
		n = columnCount
	}
	out := make([]string, n)
	copy(out, row)
	out[colSerial] = rec.Serial
	out[colIssuedDate] = rec.IssuedDate
	out[colOwnerSurname] = rec.OwnerSurname
	out[colUserID] = rec.UserID
	out[colUsed] = rec.Used
	return out
}

// ReadCSV parses a register file (header row first) into records, in order.
func ReadCSV(r io.Reader) ([]certificate.SerialRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read register: %w", err)
	}
	rows, err := parseRows(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]certificate.SerialRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := rowToRecord(row)
		if rec.Serial == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
