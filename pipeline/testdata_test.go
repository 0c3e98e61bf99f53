package pipeline

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/dataset"
	"github.com/YuminosukeSato/regselect/pkg/errors"
)

var studentHeader = []string{
	"gender", "race_ethnicity", "parental_level_of_education", "lunch",
	"test_preparation_course", "math_score", "reading_score", "writing_score",
}

var (
	genders    = []string{"female", "male"}
	groups     = []string{"group A", "group B", "group C", "group D", "group E"}
	educations = []string{
		"associate's degree", "bachelor's degree", "high school",
		"master's degree", "some college", "some high school",
	}
	lunches = []string{"free/reduced", "standard"}
	courses = []string{"completed", "none"}
)

func studentSchema() dataset.Schema {
	return dataset.Schema{
		NumericColumns: []string{"writing_score", "reading_score"},
		CategoricalColumns: []string{
			"gender", "race_ethnicity", "parental_level_of_education",
			"lunch", "test_preparation_course",
		},
		TargetColumn: "math_score",
	}
}

// studentRows は math_score が読解・作文の得点、性別、昼食区分から決まる合成データを作る。
// 一部のセルは欠損にする。
func studentRows(rng *rand.Rand, n int) [][]string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
	rows := make([][]string, n)
	for i := range rows {
		gender := rng.Intn(len(genders))
		lunch := rng.Intn(len(lunches))
		reading := 35 + rng.Float64()*60
		writing := reading + rng.NormFloat64()*5
		math := 0.45*reading + 0.45*writing + 8*float64(gender) + 5*float64(lunch) + rng.NormFloat64()*4

		row := []string{
			genders[gender],
			groups[rng.Intn(len(groups))],
			educations[rng.Intn(len(educations))],
			lunches[lunch],
			courses[rng.Intn(len(courses))],
			format(math),
			format(reading),
			format(writing),
		}
		if i%41 == 7 {
			row[6] = ""
		}
		if i%53 == 11 {
			row[3] = "NA"
		}
		rows[i] = row
	}
	return rows
}

func studentRecords(t *testing.T, seed int64, n int) dataset.RecordSet {
	t.Helper()
	rs, err := dataset.NewRecordSet(studentHeader, studentRows(rand.New(rand.NewSource(seed)), n))
	require.NoError(t, err)
	return rs
}

// randomTargets は目的変数を特徴量と無関係な乱数に置き換える
func randomTargets(t *testing.T, rs dataset.RecordSet, seed int64) dataset.RecordSet {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]string, rs.Len())
	for i, r := range rs.Records {
		row := make([]string, len(rs.Header))
		for j, h := range rs.Header {
			row[j] = r[h]
		}
		row[5] = strconv.Itoa(rng.Intn(100))
		rows[i] = row
	}
	out, err := dataset.NewRecordSet(rs.Header, rows)
	require.NoError(t, err)
	return out
}

func writeStudentsCSV(t *testing.T, path string, seed int64, n int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dataset.WriteCSV(f, studentHeader, studentRows(rand.New(rand.NewSource(seed)), n)))
}

func artifactPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "artifacts", "preprocessor.json"), filepath.Join(dir, "artifacts", "model.json")
}

// failingStore は kind のアーティファクトの保存だけを失敗させる
type failingStore struct {
	model.ArtifactStore
	kind model.ArtifactKind
}

func (s failingStore) Save(path string, a *model.Artifact) error {
	if a.Kind == s.kind {
		return errors.New("disk full")
	}
	return s.ArtifactStore.Save(path, a)
}

// stubRegressor は一定値を予測する回帰モデル。学習時の失敗やパニックを再現する。
type stubRegressor struct {
	value  float64
	fitErr error
	panics bool
}

func (s *stubRegressor) Fit(X, y mat.Matrix) error {
	if s.panics {
		panic("stub exploded")
	}
	return s.fitErr
}

func (s *stubRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, _ := X.Dims()
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		out.SetVec(i, s.value)
	}
	return out, nil
}

func (s *stubRegressor) Kind() string                   { return "Stub" }
func (s *stubRegressor) MarshalParams() ([]byte, error) { return []byte(`{}`), nil }
func (s *stubRegressor) UnmarshalParams([]byte) error   { return nil }

func stubCandidate(name string, stub stubRegressor) Candidate {
	return Candidate{Name: name, New: func() model.PersistableRegressor {
		s := stub
		return &s
	}}
}
