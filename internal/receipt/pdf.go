// Package receipt renders payment receipts for completed stock orders.
package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"distribution-order-services/internal/utils"

	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
)

type Receipt struct {
	OrderNumber string
	BuyerName   string
	BuyerEmail  string
	SellerName  string
	BundleName  string
	BundleSKU   string
	Quantity    int
	// Units is the product unit count across all bundles ordered.
	Units      int
	UnitPrice  decimal.Decimal
	Total      decimal.Decimal
	Gateway    string
	GatewayRef string
	PaidAt     time.Time
	Timezone   string
}

func Filename(orderNumber string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, orderNumber)
	return fmt.Sprintf("receipt_%s.pdf", clean)
}

func Render(r Receipt) ([]byte, error) {
	tz := r.Timezone
	if tz == "" {
		tz = "Asia/Kuala_Lumpur"
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 9, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Order %s", r.OrderNumber), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	section := func(title string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 7, title, "B", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
	}
	row := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		pdf.CellFormat(45, 6, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
	}

	section("Parties")
	row("Buyer", r.BuyerName)
	row("Buyer email", r.BuyerEmail)
	row("Seller", r.SellerName)
	pdf.Ln(2)

	section("Order")
	row("Product", r.BundleName)
	row("Bundle SKU", r.BundleSKU)
	row("Quantity", fmt.Sprintf("%d", r.Quantity))
	row("Units", fmt.Sprintf("%d", r.Units))
	row("Unit price", "RM "+utils.FormatAmount(r.UnitPrice))
	pdf.SetFont("Arial", "B", 11)
	row("Total", "RM "+utils.FormatAmount(r.Total))
	pdf.SetFont("Arial", "", 10)
	pdf.Ln(2)

	section("Payment")
	row("Gateway", r.Gateway)
	row("Reference", r.GatewayRef)
	if !r.PaidAt.IsZero() {
		row("Paid at", r.PaidAt.In(utils.LoadLocation(tz)).Format("02 Jan 2006 15:04"))
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
