package receipts

import (
	"bytes"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// Render builds the PDF receipt for a paid booking.
func Render(v model.BookingView, order model.PaymentOrder, issuedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Consultation receipt", false)
	pdf.SetCreator("medbook", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "MedBook consultation receipt")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Receipt", order.Receipt},
		{"Issued", issuedAt.UTC().Format("2006-01-02 15:04 MST")},
		{"Booking", v.ID},
		{"Payment", v.PaymentID},
		{"Order", order.ID},
	}
	for _, row := range rows {
		pdf.CellFormat(35, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Consultation")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	details := [][2]string{
		{"Doctor", v.ProviderName},
		{"Specialization", v.ProviderSpecialization},
		{"Date", v.Date},
		{"Time", v.Time},
		{"Type", string(v.Kind)},
	}
	for _, row := range details {
		pdf.CellFormat(35, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(120, 8, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(50, 8, "Amount", "B", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(120, 7, "Consultation fee", "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, FormatAmount(order.Fee, order.Currency), "", 1, "R", false, 0, "")
	pdf.CellFormat(120, 7, "Tax (18%)", "", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, FormatAmount(order.Tax, order.Currency), "", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(120, 9, "Total paid", "T", 0, "L", false, 0, "")
	pdf.CellFormat(50, 9, FormatAmount(order.Amount, order.Currency), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatAmount prints minor units with two decimals, e.g. 94400 INR -> "INR 944.00".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, minor/100, minor%100)
}
