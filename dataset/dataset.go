// Package dataset は表形式のレコード集合とその列スキーマを扱います。
//
// 列の数値／カテゴリの区別は推論せず、常に Schema で与えます。
package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

// Record は列名から生の文字列値への対応
type Record map[string]string

// RecordSet は順序付きのレコード列とヘッダ順
type RecordSet struct {
	Header  []string
	Records []Record
}

// NewRecordSet はヘッダと行からRecordSetを組み立てる。列数が揃わない行はデータエラー。
func NewRecordSet(header []string, rows [][]string) (RecordSet, error) {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		if _, dup := seen[h]; dup {
			return RecordSet{}, scierrors.NewColumnDataError("NewRecordSet", h, "duplicate column name", nil)
		}
		seen[h] = struct{}{}
	}

	rs := RecordSet{Header: append([]string(nil), header...), Records: make([]Record, 0, len(rows))}
	for i, row := range rows {
		if len(row) != len(header) {
			return RecordSet{}, scierrors.NewDataError("NewRecordSet",
				"row "+strconv.Itoa(i+1)+" has "+strconv.Itoa(len(row))+" fields, header has "+strconv.Itoa(len(header)))
		}
		rec := make(Record, len(header))
		for j, h := range header {
			rec[h] = row[j]
		}
		rs.Records = append(rs.Records, rec)
	}
	return rs, nil
}

// Len はレコード数を返す
func (rs RecordSet) Len() int { return len(rs.Records) }

// Has は列が存在するかを返す。ヘッダが空の場合は全レコードに列があるかで判定する。
func (rs RecordSet) Has(column string) bool {
	if len(rs.Header) > 0 {
		for _, h := range rs.Header {
			if h == column {
				return true
			}
		}
		return false
	}
	if len(rs.Records) == 0 {
		return false
	}
	for _, r := range rs.Records {
		if _, ok := r[column]; !ok {
			return false
		}
	}
	return true
}

// Column は列の生の値をレコード順で返す
func (rs RecordSet) Column(column string) []string {
	out := make([]string, len(rs.Records))
	for i, r := range rs.Records {
		out[i] = r[column]
	}
	return out
}

// Select は indices の順にレコードを並べた新しいRecordSetを返す
func (rs RecordSet) Select(indices []int) RecordSet {
	out := RecordSet{Header: rs.Header, Records: make([]Record, len(indices))}
	for i, idx := range indices {
		out.Records[i] = rs.Records[idx]
	}
	return out
}

// Schema は数値列、カテゴリ列、目的変数列を指定する
type Schema struct {
	NumericColumns     []string `json:"numeric_columns" yaml:"numeric_columns"`
	CategoricalColumns []string `json:"categorical_columns" yaml:"categorical_columns"`
	TargetColumn       string   `json:"target_column" yaml:"target_column"`
}

// FeatureColumns は数値列、カテゴリ列の順に特徴量列を返す
func (s Schema) FeatureColumns() []string {
	out := make([]string, 0, len(s.NumericColumns)+len(s.CategoricalColumns))
	out = append(out, s.NumericColumns...)
	return append(out, s.CategoricalColumns...)
}

// Validate はスキーマの整合性を検査する
func (s Schema) Validate() error {
	const op = "Schema.Validate"
	features := s.FeatureColumns()
	if len(features) == 0 {
		return scierrors.NewDataError(op, "schema has no feature columns")
	}
	seen := make(map[string]struct{}, len(features))
	for _, c := range features {
		if strings.TrimSpace(c) == "" {
			return scierrors.NewDataError(op, "empty column name")
		}
		if _, dup := seen[c]; dup {
			return scierrors.NewColumnDataError(op, c, "column listed more than once", nil)
		}
		seen[c] = struct{}{}
	}
	if s.TargetColumn != "" {
		if _, clash := seen[s.TargetColumn]; clash {
			return scierrors.NewColumnDataError(op, s.TargetColumn, "target column is also listed as a feature", nil)
		}
	}
	return nil
}

// RequireColumns はレコード集合がスキーマの列を全て持つかを検査する。
// withTarget が true の場合は目的変数列も要求する。余分な列は無視される。
func (s Schema) RequireColumns(op string, rs RecordSet, withTarget bool) error {
	required := s.FeatureColumns()
	if withTarget && s.TargetColumn != "" {
		required = append(required, s.TargetColumn)
	}
	var missing []string
	for _, c := range required {
		if !rs.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return scierrors.NewColumnDataError(op, strings.Join(missing, ", "), "column is missing from the record set", nil)
	}
	return nil
}

// missingTokens は欠損として扱う値
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"NaN":  {},
	"nan":  {},
	"null": {},
	"NULL": {},
	"None": {},
	"<NA>": {},
	"n/a":  {},
	"#N/A": {},
	"-NaN": {},
	"-nan": {},
}

// IsMissing は生の値が欠損トークンかを返す
func IsMissing(raw string) bool {
	_, ok := missingTokens[strings.TrimSpace(raw)]
	return ok
}

// ParseNumeric は数値セルを解析する。欠損トークンは NaN になる。
func ParseNumeric(raw string) (float64, error) {
	if IsMissing(raw) {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// NumericColumn は数値列を解析する。解析できない値はその列のデータエラー。
func (rs RecordSet) NumericColumn(op, column string) ([]float64, error) {
	out := make([]float64, len(rs.Records))
	for i, r := range rs.Records {
		v, err := ParseNumeric(r[column])
		if err == nil && math.IsInf(v, 0) {
			err = strconv.ErrRange
		}
		if err != nil {
			return nil, scierrors.NewColumnDataError(op, column,
				"row "+strconv.Itoa(i+1)+": cannot parse "+strconv.Quote(r[column])+" as a number", err)
		}
		out[i] = v
	}
	return out, nil
}

// Targets は目的変数列を解析する。欠損や非数値はデータエラー。
func (rs RecordSet) Targets(op, column string) ([]float64, error) {
	out := make([]float64, len(rs.Records))
	for i, r := range rs.Records {
		raw := r[column]
		if IsMissing(raw) {
			return nil, scierrors.NewColumnDataError(op, column, "row "+strconv.Itoa(i+1)+": target value is missing", nil)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, scierrors.NewColumnDataError(op, column,
				"row "+strconv.Itoa(i+1)+": target "+strconv.Quote(raw)+" is not a finite number", err)
		}
		out[i] = v
	}
	return out, nil
}
