// Package ingest turns uploaded advisory exports into classified
// recommendation records. Parsing is all-or-nothing: schema problems
// and malformed rows reject the whole file before anything is
// persisted.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/costlens/advisor/internal/classifier"
	"github.com/costlens/advisor/internal/models"
)

// ErrValidation marks schema and row-content problems. Validation
// failures are never retried.
var ErrValidation = errors.New("validation error")

// Canonical column keys. Headers are matched case-insensitively with
// spaces, underscores and dashes stripped, so "Business Impact",
// "business_impact" and "BusinessImpact" all resolve to the same key.
const (
	colCategory         = "category"
	colBusinessImpact   = "businessimpact"
	colRecommendation   = "recommendation"
	colBenefits         = "potentialbenefits"
	colSubscriptionID   = "subscriptionid"
	colSubscriptionName = "subscriptionname"
	colResourceGroup    = "resourcegroup"
	colResourceName     = "resourcename"
	colResourceType     = "resourcetype"
	colSavings          = "potentialannualcostsavings"
	colSavingsAlt       = "potentialsavings"
	colCurrency         = "savingscurrency"
	colCurrencyAlt      = "currency"
	colScoreImpact      = "advisorscoreimpact"
	colRetirementDate   = "retirementdate"
	colRetiringFeature  = "retiringfeature"
)

var requiredColumns = []string{
	colCategory,
	colBusinessImpact,
	colRecommendation,
	colBenefits,
}

// Parser reads a tabular export, validates its schema, normalizes each
// row and classifies it.
type Parser struct {
	cls *classifier.Classifier
}

func New(cls *classifier.Classifier) *Parser {
	return &Parser{cls: cls}
}

// Entry is one logical recommendation before persistence. The manual
// entry path (no file) builds these directly.
type Entry struct {
	RowNumber         int
	Category          models.Category
	BusinessImpact    models.BusinessImpact
	Recommendation    string
	PotentialBenefits string
	SubscriptionID    string
	SubscriptionName  string
	ResourceGroup     string
	ResourceName      string
	ResourceType      string
	PotentialSavings  float64
	Currency          string
}

// Parse reads an export file (CSV or XLSX, chosen by filename
// extension) and returns one classified Recommendation per data row.
// Any schema or row error rejects the whole file.
func (p *Parser) Parse(filename string, data []byte) ([]models.Recommendation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}

	var rows [][]string
	var err error
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".xlsx"):
		rows, err = readXLSX(data)
	default:
		rows, err = readCSV(data)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file has no header row", ErrValidation)
	}

	index, err := buildHeaderIndex(rows[0])
	if err != nil {
		return nil, err
	}

	// Validate every row before classifying any of them so a bad row
	// near the end cannot leave a half-ingested file.
	entries := make([]Entry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, counting the header
		if emptyRow(row) {
			continue
		}
		entry, err := normalizeRow(index, row, rowNum)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: file contains no data rows", ErrValidation)
	}

	recs := make([]models.Recommendation, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, p.Build(e))
	}
	return recs, nil
}

// Build classifies a single normalized entry and assembles the
// Recommendation record. The classifier output lands on the record as
// one value object.
func (p *Parser) Build(e Entry) models.Recommendation {
	return models.Recommendation{
		RowNumber:         e.RowNumber,
		Category:          e.Category,
		BusinessImpact:    e.BusinessImpact,
		Recommendation:    e.Recommendation,
		PotentialBenefits: e.PotentialBenefits,
		SubscriptionID:    e.SubscriptionID,
		SubscriptionName:  e.SubscriptionName,
		ResourceGroup:     e.ResourceGroup,
		ResourceName:      e.ResourceName,
		ResourceType:      e.ResourceType,
		PotentialSavings:  e.PotentialSavings,
		Currency:          e.Currency,
		Classification:    p.cls.Classify(e.Recommendation, e.PotentialBenefits),
	}
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed csv: %v", ErrValidation, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrValidation, sheets[0], err)
	}
	return rows, nil
}

func canonicalKey(header string) string {
	k := strings.ToLower(strings.TrimSpace(header))
	k = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(k)
	return k
}

// buildHeaderIndex maps canonical column keys to their position.
// Unknown columns are ignored; missing required columns reject the
// file.
func buildHeaderIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := canonicalKey(h)
		if key == "" {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return index, nil
}

func cell(index map[string]int, row []string, keys ...string) string {
	for _, key := range keys {
		i, ok := index[key]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}

func emptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func normalizeRow(index map[string]int, row []string, rowNum int) (Entry, error) {
	category, err := ParseCategory(cell(index, row, colCategory))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: row %d: %v", ErrValidation, rowNum, err)
	}
	impact, err := ParseImpact(cell(index, row, colBusinessImpact))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: row %d: %v", ErrValidation, rowNum, err)
	}
	recommendation := cell(index, row, colRecommendation)
	if recommendation == "" {
		return Entry{}, fmt.Errorf("%w: row %d: recommendation text is empty", ErrValidation, rowNum)
	}
	savings, err := parseSavings(cell(index, row, colSavings, colSavingsAlt))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: row %d: %v", ErrValidation, rowNum, err)
	}

	return Entry{
		RowNumber:         rowNum,
		Category:          category,
		BusinessImpact:    impact,
		Recommendation:    recommendation,
		PotentialBenefits: cell(index, row, colBenefits),
		SubscriptionID:    cell(index, row, colSubscriptionID),
		SubscriptionName:  cell(index, row, colSubscriptionName),
		ResourceGroup:     cell(index, row, colResourceGroup),
		ResourceName:      cell(index, row, colResourceName),
		ResourceType:      cell(index, row, colResourceType),
		PotentialSavings:  savings,
		Currency:          cell(index, row, colCurrency, colCurrencyAlt),
	}, nil
}

// ParseCategory maps the spellings advisory exports use onto the
// category enum. Manual entry goes through the same mapping so both
// paths accept the same vocabulary.
func ParseCategory(v string) (models.Category, error) {
	switch strings.ToLower(v) {
	case "cost":
		return models.CategoryCost, nil
	case "security":
		return models.CategorySecurity, nil
	case "reliability", "high availability", "highavailability":
		return models.CategoryReliability, nil
	case "operational", "operational excellence", "operationalexcellence":
		return models.CategoryOperational, nil
	case "performance":
		return models.CategoryPerformance, nil
	case "":
		return "", fmt.Errorf("category is empty")
	default:
		return "", fmt.Errorf("unknown category %q", v)
	}
}

func ParseImpact(v string) (models.BusinessImpact, error) {
	switch strings.ToLower(v) {
	case "high":
		return models.ImpactHigh, nil
	case "medium":
		return models.ImpactMedium, nil
	case "low":
		return models.ImpactLow, nil
	case "":
		return "", fmt.Errorf("business impact is empty")
	default:
		return "", fmt.Errorf("unknown business impact %q", v)
	}
}

// parseSavings accepts plain numbers plus the thousand-separator and
// currency-symbol noise spreadsheet exports carry. Blank means zero.
func parseSavings(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, v)
	if cleaned == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid potential savings %q", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative potential savings %q", v)
	}
	return f, nil
}
