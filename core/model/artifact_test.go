package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

type constParams struct {
	Value float64 `json:"value"`
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "artifacts", "preprocessor.json")

	a := NewArtifact(KindTransformer)
	require.NoError(t, a.AddBlock("schema", map[string][]string{"numeric": {"reading_score"}}))
	require.NoError(t, a.AddBlock("scaler/numeric", constParams{Value: 1.5}))

	store := NewFileStore()
	require.NoError(t, store.Save(path, a))

	loaded, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ArtifactFormat, loaded.Format)
	assert.Equal(t, KindTransformer, loaded.Kind)
	assert.Equal(t, []string{"schema", "scaler/numeric"}, loaded.Tags())

	var p constParams
	require.NoError(t, loaded.DecodeBlock("scaler/numeric", &p))
	assert.Equal(t, 1.5, p.Value)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	store := &FileStore{}

	first := NewArtifact(KindModel)
	require.NoError(t, first.AddBlock("model/A", constParams{Value: 1}))
	require.NoError(t, store.Save(path, first))

	second := NewArtifact(KindModel)
	require.NoError(t, second.AddBlock("model/B", constParams{Value: 2}))
	require.NoError(t, store.Save(path, second))

	loaded, err := store.Load(path)
	require.NoError(t, err)
	kind, err := ModelKind(loaded)
	require.NoError(t, err)
	assert.Equal(t, "B", kind)
}

func TestFileStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := NewFileStore().Save(filepath.Join(blocker, "model.json"), NewArtifact(KindModel))
	require.Error(t, err)

	var perr *scierrors.PersistenceError
	assert.True(t, scierrors.As(err, &perr))
}

func TestFileStoreLoadRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"unknown format", `{"format":"other","version":1,"kind":"model","blocks":[]}`},
		{"future version", `{"format":"regselect.artifact","version":99,"kind":"model","blocks":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := NewFileStore().Load(path)
			var perr *scierrors.PersistenceError
			assert.True(t, scierrors.As(err, &perr), "got %v", err)
		})
	}

	_, err := NewFileStore().Load(filepath.Join(dir, "missing.json"))
	var perr *scierrors.PersistenceError
	assert.True(t, scierrors.As(err, &perr))
}

func TestArtifactValidate(t *testing.T) {
	a := NewArtifact(KindTransformer)
	require.NoError(t, a.AddBlock("schema", constParams{}))
	require.NoError(t, a.AddBlock("mystery", constParams{}))

	assert.ErrorIs(t, a.Validate(KindModel, nil), scierrors.ErrUnsupportedArtifact)

	known := func(tag string) bool { return tag == "schema" }
	assert.ErrorIs(t, a.Validate(KindTransformer, known), scierrors.ErrUnsupportedArtifact)
	assert.NoError(t, a.Validate(KindTransformer, nil))

	assert.Error(t, a.AddBlock("schema", constParams{}), "duplicate tags are rejected")
	assert.Error(t, a.DecodeBlock("absent", &constParams{}))
}

func TestModelKindRequiresSingleModelBlock(t *testing.T) {
	a := NewArtifact(KindModel)
	_, err := ModelKind(a)
	assert.Error(t, err)

	require.NoError(t, a.AddBlock("model/LinearRegression", constParams{}))
	kind, err := ModelKind(a)
	require.NoError(t, err)
	assert.Equal(t, "LinearRegression", kind)
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	var nf *scierrors.NotFittedError
	assert.True(t, scierrors.As(s.RequireFitted("LinearRegression", "Predict"), &nf))

	s.SetFitted(3, 10)
	assert.NoError(t, s.RequireFitted("LinearRegression", "Predict"))
	assert.NoError(t, s.RequireFeatures("Predict", 3))

	var de *scierrors.DimensionError
	assert.True(t, scierrors.As(s.RequireFeatures("Predict", 4), &de))

	restored := NewStateManager()
	restored.Restore(s.State())
	nFeatures, nSamples := restored.Dimensions()
	assert.Equal(t, 3, nFeatures)
	assert.Equal(t, 10, nSamples)

	s.Reset()
	assert.False(t, s.IsFitted())
}
