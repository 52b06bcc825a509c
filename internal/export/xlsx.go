package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"voicebox/internal/api"
)

var columns = []struct {
	header string
	value  func(api.Item) any
}{
	{"ID", func(i api.Item) any { return i.ID }},
	{"Empfangen", func(i api.Item) any { return i.ReceivedAt }},
	{"Absender", func(i api.Item) any { return i.Sender }},
	{"Telefon", func(i api.Item) any { return i.Phone }},
	{"Status", func(i api.Item) any { return i.Status }},
	{"Vorname", func(i api.Item) any { return i.Fields.FirstName }},
	{"Nachname", func(i api.Item) any { return i.Fields.LastName }},
	{"Geburtsdatum", func(i api.Item) any { return i.Fields.Birthdate }},
	{"Anfragetyp", func(i api.Item) any { return i.Fields.RequestType }},
	{"Medikament", func(i api.Item) any { return i.Fields.Medication }},
	{"Dosis", func(i api.Item) any { return i.Fields.Dosage }},
	{"Fachrichtung", func(i api.Item) any { return i.Fields.Specialty }},
	{"Überweisungsgrund", func(i api.Item) any { return i.Fields.ReferralReason }},
	{"Notiz", func(i api.Item) any { return i.Fields.Note }},
	{"Transkript", func(i api.Item) any { return i.Transcript }},
	{"Modell", func(i api.Item) any { return i.ModelUsed }},
	{"Dauer (s)", func(i api.Item) any { return i.Duration }},
	{"Bewertung", func(i api.Item) any { return i.Rating }},
}

// WriteXLSX writes the items to an Excel workbook at path.
func WriteXLSX(path string, items []api.Item) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	for col, column := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, column.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for row, item := range items {
		for col, column := range columns {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, column.value(item)); err != nil {
				return fmt.Errorf("write row %d: %w", row+1, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
