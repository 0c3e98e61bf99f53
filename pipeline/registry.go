package pipeline

import (
	"sort"

	"github.com/YuminosukeSato/regselect/core/model"
	"github.com/YuminosukeSato/regselect/linear"
	"github.com/YuminosukeSato/regselect/pkg/errors"
	"github.com/YuminosukeSato/regselect/sklearn/ensemble"
	"github.com/YuminosukeSato/regselect/sklearn/neighbors"
	"github.com/YuminosukeSato/regselect/sklearn/tree"
)

// 既定パネルの候補名
const (
	NameRandomForest     = "Random Forest"
	NameDecisionTree     = "Decision Tree"
	NameGradientBoosting = "Gradient Boosting"
	NameLinearRegression = "Linear Regression"
	NameKNeighbors       = "K-Neighbors Regressor"
	NameXGB              = "XGBRegressor"
	NameAdaBoost         = "AdaBoost Regressor"
)

// Factory は既定のハイパーパラメータを持つ未学習の回帰モデルを作る
type Factory func() model.PersistableRegressor

// Candidate はパネルの1エントリ
type Candidate struct {
	Name string
	New  Factory
}

// Panel は評価する候補の順序付きリスト。同点のスコアは先のエントリが勝つ。
type Panel []Candidate

// DefaultPanel は全ての候補を既定の順序で返す
func DefaultPanel() Panel {
	return Panel{
		{NameRandomForest, func() model.PersistableRegressor { return ensemble.NewRandomForestRegressor() }},
		{NameDecisionTree, func() model.PersistableRegressor { return tree.NewDecisionTreeRegressor() }},
		{NameGradientBoosting, func() model.PersistableRegressor { return ensemble.NewGradientBoostingRegressor() }},
		{NameLinearRegression, func() model.PersistableRegressor { return linear.NewLinearRegression() }},
		{NameKNeighbors, func() model.PersistableRegressor { return neighbors.NewKNeighborsRegressor() }},
		{NameXGB, func() model.PersistableRegressor { return ensemble.NewXGBRegressor() }},
		{NameAdaBoost, func() model.PersistableRegressor { return ensemble.NewAdaBoostRegressor() }},
	}
}

// Names は候補名をパネル順で返す
func (p Panel) Names() []string {
	names := make([]string, len(p))
	for i, c := range p {
		names[i] = c.Name
	}
	return names
}

// Validate はパネルが空でなく、名前が一意で、全てのファクトリが設定されているかを検査する
func (p Panel) Validate() error {
	if len(p) == 0 {
		return errors.NewValidationError("panel", "candidate panel is empty", 0)
	}
	seen := make(map[string]struct{}, len(p))
	for _, c := range p {
		if c.Name == "" || c.New == nil {
			return errors.NewValidationError("panel", "candidate needs a name and a factory", c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return errors.NewValidationError("panel", "duplicate candidate name", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Subset は names に含まれる候補だけをパネル順のまま返す。
// names が空ならパネル全体を返す。未知の名前はバリデーションエラー。
func (p Panel) Subset(names []string) (Panel, error) {
	if len(names) == 0 {
		return p, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(Panel, 0, len(names))
	for _, c := range p {
		if want[c.Name] {
			out = append(out, c)
			delete(want, c.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, errors.NewValidationError("models", "unknown candidate names", unknown)
	}
	return out, nil
}

// codecs はアーティファクトの Kind から空のモデルを作る静的レジストリ
var codecs = map[string]Factory{
	linear.Kind:                   func() model.PersistableRegressor { return linear.NewLinearRegression() },
	tree.Kind:                     func() model.PersistableRegressor { return tree.NewDecisionTreeRegressor() },
	neighbors.Kind:                func() model.PersistableRegressor { return neighbors.NewKNeighborsRegressor() },
	ensemble.RandomForestKind:     func() model.PersistableRegressor { return ensemble.NewRandomForestRegressor() },
	ensemble.GradientBoostingKind: func() model.PersistableRegressor { return ensemble.NewGradientBoostingRegressor() },
	ensemble.XGBKind:              func() model.PersistableRegressor { return ensemble.NewXGBRegressor() },
	ensemble.AdaBoostKind:         func() model.PersistableRegressor { return ensemble.NewAdaBoostRegressor() },
}

// Kinds は復元可能なモデル種別を辞書順で返す
func Kinds() []string {
	kinds := make([]string, 0, len(codecs))
	for k := range codecs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// LoadModel は保存された学習済み回帰モデルを復元する
func LoadModel(store model.ArtifactStore, path string) (model.PersistableRegressor, error) {
	a, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	return DecodeModel(a, path)
}

// DecodeModel はモデルアーティファクトから回帰モデルを復元する。path はエラー表示用。
func DecodeModel(a *model.Artifact, path string) (model.PersistableRegressor, error) {
	kind, err := model.ModelKind(a)
	if err != nil {
		return nil, errors.NewPersistenceError("LoadModel", path, err)
	}
	factory, ok := codecs[kind]
	if !ok {
		return nil, errors.NewPersistenceError("LoadModel", path,
			errors.Wrapf(errors.ErrUnsupportedArtifact, "unknown model kind %q", kind))
	}
	m := factory()
	block, _ := a.Block(model.ModelTagPrefix + kind)
	if err := m.UnmarshalParams(block.Data); err != nil {
		return nil, errors.NewPersistenceError("LoadModel", path, err)
	}
	return m, nil
}
