package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

// アーティファクト形式の識別子とバージョン
const (
	ArtifactFormat  = "regselect.artifact"
	ArtifactVersion = 1
)

// ArtifactKind はアーティファクトの種別
type ArtifactKind string

const (
	KindTransformer ArtifactKind = "transformer"
	KindModel       ArtifactKind = "model"
)

// ModelTagPrefix はモデルパラメータブロックのタグ接頭辞
const ModelTagPrefix = "model/"

// Block はタグ付きのパラメータブロック
type Block struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// Artifact はバージョン付きヘッダとタグ付きブロック列からなる永続化単位
type Artifact struct {
	Format    string       `json:"format"`
	Version   int          `json:"version"`
	Kind      ArtifactKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
	Blocks    []Block      `json:"blocks"`
}

// NewArtifact は空のアーティファクトを作成する
func NewArtifact(kind ArtifactKind) *Artifact {
	return &Artifact{
		Format:    ArtifactFormat,
		Version:   ArtifactVersion,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// AddBlock は v をJSONにしてブロックとして追加する。
// v が []byte の場合はエンコード済みJSONとしてそのまま使う。
func (a *Artifact) AddBlock(tag string, v interface{}) error {
	var data []byte
	switch raw := v.(type) {
	case []byte:
		data = raw
	case json.RawMessage:
		data = raw
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return scierrors.Wrapf(err, "encode block %s", tag)
		}
	}
	if a.Has(tag) {
		return scierrors.NewValueError("Artifact.AddBlock", "duplicate block tag "+tag)
	}
	a.Blocks = append(a.Blocks, Block{Tag: tag, Data: data})
	return nil
}

// Has は指定タグのブロックがあるかを返す
func (a *Artifact) Has(tag string) bool {
	for _, b := range a.Blocks {
		if b.Tag == tag {
			return true
		}
	}
	return false
}

// Block は指定タグのブロックを返す
func (a *Artifact) Block(tag string) (Block, bool) {
	for _, b := range a.Blocks {
		if b.Tag == tag {
			return b, true
		}
	}
	return Block{}, false
}

// DecodeBlock は指定タグのブロックを v にデコードする。ブロックが無ければエラー。
func (a *Artifact) DecodeBlock(tag string, v interface{}) error {
	b, ok := a.Block(tag)
	if !ok {
		return scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "missing block %s", tag)
	}
	if err := json.Unmarshal(b.Data, v); err != nil {
		return scierrors.Wrapf(err, "decode block %s", tag)
	}
	return nil
}

// Tags はブロックのタグを格納順で返す
func (a *Artifact) Tags() []string {
	tags := make([]string, len(a.Blocks))
	for i, b := range a.Blocks {
		tags[i] = b.Tag
	}
	return tags
}

// Validate はヘッダとタグを検査する。allowed が nil 以外の場合、
// そこに含まれないタグは未知のブロックとして拒否する。
func (a *Artifact) Validate(kind ArtifactKind, allowed func(tag string) bool) error {
	switch {
	case a.Format != ArtifactFormat:
		return scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "unknown format %q", a.Format)
	case a.Version < 1 || a.Version > ArtifactVersion:
		return scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "unsupported version %d", a.Version)
	case a.Kind != kind:
		return scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "expected %s artifact, got %q", kind, a.Kind)
	}
	if allowed == nil {
		return nil
	}
	var unknown []string
	for _, b := range a.Blocks {
		if !allowed(b.Tag) {
			unknown = append(unknown, b.Tag)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "unknown blocks %v", unknown)
	}
	return nil
}

// ArtifactStore はアーティファクトの保存先
type ArtifactStore interface {
	Save(path string, a *Artifact) error
	Load(path string) (*Artifact, error)
}

// FileStore はローカルファイルシステムに保存するArtifactStore
type FileStore struct {
	// Indent が true の場合はインデント付きで書き出す
	Indent bool
}

// NewFileStore はインデント付きで書き出すFileStoreを返す
func NewFileStore() *FileStore {
	return &FileStore{Indent: true}
}

// Save はアーティファクトを path に書き出す。一時ファイルに書いて fsync した後に
// rename するため、読み手が書きかけのファイルを見ることはない。親ディレクトリは作成する。
func (s *FileStore) Save(path string, a *Artifact) error {
	if a == nil {
		return scierrors.NewPersistenceError("Save", path, scierrors.New("nil artifact"))
	}

	var (
		data []byte
		err  error
	)
	if s.Indent {
		data, err = json.MarshalIndent(a, "", "  ")
	} else {
		data, err = json.Marshal(a)
	}
	if err != nil {
		return scierrors.NewPersistenceError("Save", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return scierrors.NewPersistenceError("Save", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return scierrors.NewPersistenceError("Save", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		cleanup()
		return scierrors.NewPersistenceError("Save", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return scierrors.NewPersistenceError("Save", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return scierrors.NewPersistenceError("Save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return scierrors.NewPersistenceError("Save", path, err)
	}
	return nil
}

// Load は path からアーティファクトを読み込む。形式名とバージョンのみ検査し、
// 種別とタグの検査は呼び出し側の Validate に任せる。
func (s *FileStore) Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scierrors.NewPersistenceError("Load", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, scierrors.NewPersistenceError("Load", path, err)
	}
	if a.Format != ArtifactFormat || a.Version < 1 || a.Version > ArtifactVersion {
		return nil, scierrors.NewPersistenceError("Load", path,
			scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "format %q version %d", a.Format, a.Version))
	}
	return &a, nil
}

// SaveRegressor は学習済み回帰モデルを model/<Kind> ブロック1つのアーティファクトとして保存する
func SaveRegressor(store ArtifactStore, path string, m ParamCodec) error {
	params, err := m.MarshalParams()
	if err != nil {
		return scierrors.NewPersistenceError("SaveRegressor", path, err)
	}
	a := NewArtifact(KindModel)
	if err := a.AddBlock(ModelTagPrefix+m.Kind(), json.RawMessage(params)); err != nil {
		return scierrors.NewPersistenceError("SaveRegressor", path, err)
	}
	return store.Save(path, a)
}

// ModelKind はモデルアーティファクトに格納されたモデル種別を返す
func ModelKind(a *Artifact) (string, error) {
	if err := a.Validate(KindModel, nil); err != nil {
		return "", err
	}
	if len(a.Blocks) != 1 || !strings.HasPrefix(a.Blocks[0].Tag, ModelTagPrefix) || a.Blocks[0].Tag == ModelTagPrefix {
		return "", scierrors.Wrapf(scierrors.ErrUnsupportedArtifact, "model artifact must hold exactly one %s<kind> block, got %v", ModelTagPrefix, a.Tags())
	}
	return strings.TrimPrefix(a.Blocks[0].Tag, ModelTagPrefix), nil
}
