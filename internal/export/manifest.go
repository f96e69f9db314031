// Package export builds the daily courier manifest spreadsheet.
package export

import (
	"bytes"
	"strings"

	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"

	"github.com/xuri/excelize/v2"
)

const ManifestContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const manifestSheet = "Manifest"

var manifestHeaders = []string{
	"No", "Order Number", "Tracking Number", "Customer", "Phone", "Address",
	"Postcode", "City", "State", "SKU", "Qty", "COD (RM)", "Shipped At",
}

// Manifest renders purchases into an XLSX workbook, one row per parcel.
// Shipped times are shown in tz.
func Manifest(purchases []store.CustomerPurchase, tz string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(manifestSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for i, header := range manifestHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(manifestSheet, cell, header); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(manifestSheet, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	loc := utils.LoadLocation(tz)
	for i, p := range purchases {
		cod := ""
		if p.IsCOD() {
			cod = utils.FormatAmount(p.TotalPrice)
		}
		shippedAt := ""
		if p.ShippedAt != nil {
			shippedAt = p.ShippedAt.In(loc).Format("2006-01-02 15:04")
		}
		values := []any{
			i + 1, p.OrderNumber, p.TrackingNumber, p.CustomerName, p.CustomerPhone, address(p),
			p.Postcode, p.City, p.State, p.SKU, p.Quantity, cod, shippedAt,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(manifestSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	widths := map[string]float64{"B": 22, "C": 20, "D": 24, "F": 40, "J": 28, "M": 18}
	for col, width := range widths {
		if err := f.SetColWidth(manifestSheet, col, col, width); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(manifestSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := f.Write(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func address(p store.CustomerPurchase) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{p.Address1, p.Address2} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
