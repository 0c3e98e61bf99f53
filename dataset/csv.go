package dataset

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

// ReadCSV はヘッダ付きCSVファイルを読み込む
func ReadCSV(path string) (RecordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return RecordSet{}, scierrors.NewPersistenceError("ReadCSV", path, err)
	}
	defer file.Close()

	rs, err := ParseCSV(bufio.NewReader(file))
	if err != nil {
		return RecordSet{}, scierrors.Wrapf(err, "read %s", path)
	}
	return rs, nil
}

// ParseCSV は先頭行をヘッダとしてCSVを解析する。ヘッダ名の前後の空白は除去する。
func ParseCSV(r io.Reader) (RecordSet, error) {
	reader := csv.NewReader(r)
	// 列数の検査は NewRecordSet で行う
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return RecordSet{}, scierrors.NewDataError("ParseCSV", "input has no header row")
	}
	if err != nil {
		return RecordSet{}, scierrors.NewColumnDataError("ParseCSV", "", "malformed header", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows [][]string
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RecordSet{}, scierrors.NewColumnDataError("ParseCSV", "", "malformed row at line "+strconv.Itoa(line), err)
		}
		rows = append(rows, rec)
	}
	return NewRecordSet(header, rows)
}

// WriteCSV はヘッダと行をCSVとして書き出す
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return scierrors.WithStack(err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return scierrors.WithStack(err)
	}
	return nil
}
