package importer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical column names.
const (
	ColCode          = "ma_bravo"
	ColName          = "ten_vat_tu"
	ColUnit          = "don_vi"
	ColSpec          = "thong_so_ky_thuat"
	ColOnHand        = "ton_kho"
	ColPlanned       = "so_luong_kh"
	ColLocation      = "ma_vi_tri"
	ColSystem        = "ma_he_thong"
	ColWarehouse     = "kho"
	ColShelf         = "ke"
	ColSlot          = "ngan"
	ColFloor         = "tang"
	ColDescription   = "mo_ta"
	ColFactoryCode   = "ma_nha_may"
	ColFactoryName   = "ten_nha_may"
	ColQty           = "so_luong"
	ColSeq           = "stt"
	ColUnitPrice     = "don_gia"
	ColTotal         = "thanh_tien"
	ColSupplyRequest = "so_de_nghi_cap"
	ColRequestedAt   = "ngay_de_nghi"
	ColDepartment    = "bo_phan"
	ColNote          = "ghi_chu"
	ColActual        = "so_luong_thuc_te"
)

var canonical = map[string]bool{
	ColCode: true, ColName: true, ColUnit: true, ColSpec: true, ColOnHand: true,
	ColPlanned: true, ColLocation: true, ColSystem: true, ColWarehouse: true,
	ColShelf: true, ColSlot: true, ColFloor: true, ColDescription: true,
	ColFactoryCode: true, ColFactoryName: true, ColQty: true, ColSeq: true,
	ColUnitPrice: true, ColTotal: true, ColSupplyRequest: true, ColRequestedAt: true,
	ColDepartment: true, ColNote: true, ColActual: true,
}

// aliases maps folded header spellings that differ from a canonical name.
var aliases = map[string]string{
	"ma":                       ColCode,
	"ma_bravo_vat_tu":          ColCode,
	"ma_vat_tu":                ColCode,
	"bravo":                    ColCode,
	"ten":                      ColName,
	"ten_vt":                   ColName,
	"dvt":                      ColUnit,
	"don_vi_tinh":              ColUnit,
	"thong_so":                 ColSpec,
	"quy_cach":                 ColSpec,
	"so_luong_ton":             ColOnHand,
	"ton":                      ColOnHand,
	"so_luong_ke_hoach":        ColPlanned,
	"ke_hoach":                 ColPlanned,
	"vi_tri":                   ColLocation,
	"he_thong":                 ColSystem,
	"nha_may":                  ColFactoryCode,
	"sl":                       ColQty,
	"so_thu_tu":                ColSeq,
	"so_tt":                    ColSeq,
	"ngay_de_nghi_xuat":        ColRequestedAt,
	"ngay_de_nghi_nhap":        ColRequestedAt,
	"ngay":                     ColRequestedAt,
	"so_de_nghi":               ColSupplyRequest,
	"so_luong_kiem_ke":         ColActual,
	"thuc_te":                  ColActual,
	"sl_thuc_te":               ColActual,
	"so_luong_thuc_te_kiem_ke": ColActual,
}

var fold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldHeader lower-cases h, strips Vietnamese diacritics and joins words with
// underscores: "Mã Bravo" becomes "ma_bravo".
func FoldHeader(h string) string {
	s, _, err := transform.String(fold, strings.ToLower(strings.TrimSpace(h)))
	if err != nil {
		s = strings.ToLower(h)
	}
	s = strings.NewReplacer("đ", "d", "Đ", "d").Replace(s)
	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// Canonical maps a raw header to its canonical column name. ok is false for
// columns the importer does not know.
func Canonical(h string) (string, bool) {
	folded := FoldHeader(h)
	if canonical[folded] {
		return folded, true
	}
	if c, ok := aliases[folded]; ok {
		return c, true
	}
	return "", false
}

// Columns locates canonical columns in a header row. When two headers map to
// the same column the first one wins.
type Columns map[string]int

// NewColumns normalises header once per file.
func NewColumns(header []string) Columns {
	cols := Columns{}
	for i, h := range header {
		c, ok := Canonical(h)
		if !ok {
			continue
		}
		if _, dup := cols[c]; !dup {
			cols[c] = i
		}
	}
	return cols
}

// Has reports whether the file carries column c.
func (c Columns) Has(col string) bool {
	_, ok := c[col]
	return ok
}

// Row is one data row addressed by canonical column name.
type Row struct {
	// Number is the 1-based spreadsheet row, counting the header.
	Number int
	cells  []string
	cols   Columns
}

// Get returns the trimmed cell of col, or "" when the column is absent.
func (r Row) Get(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Rows binds data rows to cols. Row numbers start at 2, the first row below
// the header.
func Rows(cols Columns, data [][]string) []Row {
	rows := make([]Row, len(data))
	for i, cells := range data {
		rows[i] = Row{Number: i + 2, cells: cells, cols: cols}
	}
	return rows
}
