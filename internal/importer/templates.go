package importer

import (
	"fmt"

	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/tabular"
)

var templates = map[Kind]tabular.Sheet{
	KindMaterials: {
		Name:   "vat_tu",
		Header: []string{ColCode, ColName, ColUnit, ColSpec, ColOnHand, ColPlanned, ColLocation, ColSystem, ColWarehouse, ColShelf, ColSlot, ColFloor},
		Rows: [][]any{
			{"1.26.46.001.000.A8.000", "Bu lông M12", "Cái", "M12x50", 10, 0, "A8", "", "", "", "", ""},
		},
	},
	KindInbound: {
		Name:   "de_nghi_nhap",
		Header: []string{ColSeq, ColCode, ColQty, ColUnitPrice, ColTotal, ColSupplyRequest, ColRequestedAt, ColDepartment, ColNote},
		Rows: [][]any{
			{1, "1.26.46.001.000.A8.000", 5, 12000, 60000, "DN-001", "18/10/2026", "Cơ khí", ""},
		},
	},
	KindOutbound: {
		Name:   "de_nghi_xuat",
		Header: []string{ColSeq, ColCode, ColQty, ColRequestedAt, ColNote},
		Rows: [][]any{
			{1, "1.26.46.001.000.A8.000", 2, "18/10/2026", ""},
		},
	},
	KindCounts: {
		Name:   "kiem_ke",
		Header: []string{ColSeq, ColCode, ColName, ColUnit, ColQty, ColActual},
		Rows: [][]any{
			{1, "1.26.46.001.000.A8.000", "Bu lông M12", "Cái", 10, 9},
		},
	},
	KindLocations: {
		Name:   "vi_tri",
		Header: []string{ColLocation, ColSystem, ColWarehouse, ColShelf, ColSlot, ColFloor, ColDescription},
		Rows: [][]any{
			{"A1", "Đập tràn", "2", "A", "1", "1", ""},
		},
	},
}

// Template returns an empty workbook for kind with its canonical header and
// one sample row.
func Template(kind Kind) ([]byte, error) {
	sheet, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return tabular.Encode(sheet)
}

var statusLabels = map[counting.Status]string{
	counting.StatusMatch:    "Khớp",
	counting.StatusSurplus:  "Thừa",
	counting.StatusShortage: "Thiếu",
}

// CountSheet projects count rows with their variance and status.
func CountSheet(factory string, records []counting.Record) tabular.Sheet {
	sheet := tabular.Sheet{
		Name:   "kiem_ke_" + factory,
		Header: []string{"STT", "Mã Bravo", "Tên vật tư", "Đơn vị", "Số lượng sổ sách", "Số lượng thực tế", "Chênh lệch", "Trạng thái"},
		Widths: map[int]float64{1: 28, 2: 40},
	}
	for _, r := range records {
		sheet.Rows = append(sheet.Rows, []any{r.Seq, r.Code, r.Name, r.Unit, r.Expected, r.Actual, r.Variance, statusLabels[r.Status]})
	}
	return sheet
}

// MaterialSheet projects a material listing.
func MaterialSheet(materials []catalog.Material) tabular.Sheet {
	sheet := tabular.Sheet{
		Name:   "vat_tu",
		Header: []string{"Nhà máy", "Mã Bravo", "Tên vật tư", "Đơn vị", "Thông số kỹ thuật", "Tồn kho", "Số lượng KH", "Vị trí", "Hệ thống", "Xuất xứ"},
		Widths: map[int]float64{1: 28, 2: 40, 4: 30},
	}
	for _, m := range materials {
		var spec, loc, system, origin string
		if m.Spec != nil {
			spec = *m.Spec
		}
		if m.Location != nil {
			loc, system = m.Location.Code, m.Location.SystemCategory
		}
		if m.Origin != nil {
			origin = m.Origin.CountryName
		}
		sheet.Rows = append(sheet.Rows, []any{m.FactoryCode, m.Code, m.Name, m.Unit, spec, m.OnHand, m.Planned, loc, system, origin})
	}
	return sheet
}
