package ingest

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Workbook maps sheet name to its rows. Rows are decoded loosely: a row that is
// not an array is kept as-is and skipped by the parser.
type Workbook map[string][]interface{}

// ReadWorkbook decodes a workbook export
func ReadWorkbook(r io.Reader) (Workbook, error) {
	var wb Workbook
	if err := json.NewDecoder(r).Decode(&wb); err != nil {
		return nil, fmt.Errorf("failed to decode workbook: %w", err)
	}
	return wb, nil
}

// LoadWorkbook opens and decodes the file at path
func LoadWorkbook(path string) (Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return ReadWorkbook(f)
}

// SheetNames returns the sheet names in processing order
func (wb Workbook) SheetNames() []string {
	names := make([]string, 0, len(wb))
	for name := range wb {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func rowCells(row interface{}) ([]interface{}, bool) {
	cells, ok := row.([]interface{})
	return cells, ok
}

func cellAt(cells []interface{}, i int) interface{} {
	if i < 0 || i >= len(cells) {
		return nil
	}
	return cells[i]
}

// cellString renders a cell as trimmed text; null and missing cells are empty
func cellString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(c)
	default:
		return strings.TrimSpace(fmt.Sprint(c))
	}
}

var leadingNumberRe = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// cellNumber reads a numeric cell. Text cells parse their leading number, so
// "12.5 (pack)" is 12.5 and "£12" is not a number.
func cellNumber(v interface{}) (float64, bool) {
	switch c := v.(type) {
	case float64:
		return c, true
	case string:
		m := leadingNumberRe.FindString(strings.TrimSpace(c))
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// rightmostLink scans a row right to left for the first cell that looks like a URL
func rightmostLink(cells []interface{}) string {
	for i := len(cells) - 1; i >= 0; i-- {
		if s := cellString(cells[i]); strings.HasPrefix(s, "http") {
			return s
		}
	}
	return ""
}
