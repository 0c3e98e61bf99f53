package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

// ErrFmtHandler は error 属性を持つレコードにスタックトレースとエラー分類の属性を追加する。
// レコードが既に持っているキーは上書きしない。
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler so that records carrying an ErrAttr also
// carry StacktraceAttrKey, ErrorTypeKey and the fields of the regselect error
// that caused them.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{handler: handler}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	seen := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		seen[attr.Key] = true
		if e, ok := attr.Value.Any().(error); ok && attr.Key == ErrAttrKey && err == nil {
			err = e
		}
		return true
	})
	if err == nil {
		return eh.handler.Handle(ctx, r)
	}
	for _, attr := range errorAttrs(err) {
		if !seen[attr.Key] {
			r.AddAttrs(attr)
		}
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

// errorAttrs は err の分類とスタックトレースを属性にする。
// TrainingError は DataError などを包むので先に調べる。
func errorAttrs(err error) []slog.Attr {
	var (
		attrs []slog.Attr
		te    *scierrors.TrainingError
		qe    *scierrors.ModelQualityError
		pe    *scierrors.PersistenceError
		de    *scierrors.DataError
		ve    *scierrors.ValidationError
	)
	switch {
	case errors.As(err, &te):
		attrs = append(attrs,
			slog.String(ErrorTypeKey, "training"),
			slog.String(ModelNameKey, te.Algorithm),
			slog.String(OperationKey, te.Phase),
		)
	case errors.As(err, &qe):
		attrs = append(attrs,
			slog.String(ErrorTypeKey, "quality"),
			slog.Float64(ThresholdKey, qe.Threshold),
		)
		if qe.BestAlgorithm != "" {
			attrs = append(attrs, slog.String(ModelNameKey, qe.BestAlgorithm))
		}
	case errors.As(err, &pe):
		attrs = append(attrs,
			slog.String(ErrorTypeKey, "persistence"),
			slog.String(ArtifactPathKey, pe.Path),
		)
	case errors.As(err, &de):
		attrs = append(attrs, slog.String(ErrorTypeKey, "data"))
		if de.Column != "" {
			attrs = append(attrs, slog.String(ColumnKey, de.Column))
		}
	case errors.As(err, &ve):
		attrs = append(attrs, slog.String(ErrorTypeKey, "validation"))
	}
	if st := extractStacktrace(err); st != "" {
		attrs = append(attrs, slog.String(StacktraceAttrKey, st))
	}
	return attrs
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
