package errors

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Fit",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "regselect: Fit: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "regselect: Predict: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 3, 1)

	want := "regselect: Predict: dimension mismatch on axis 1 (features). Expected 10, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestPipelineErrorTaxonomy(t *testing.T) {
	cause := fmt.Errorf("disk full")

	tests := []struct {
		name    string
		err     error
		wantMsg string
		check   func(error) bool
	}{
		{
			name:    "data error without column",
			err:     NewDataError("FitTransformAndPersist", "training record set is empty"),
			wantMsg: "regselect: FitTransformAndPersist: data error: training record set is empty",
			check: func(err error) bool {
				var e *DataError
				return As(err, &e)
			},
		},
		{
			name:    "data error with column",
			err:     NewColumnDataError("ValidateColumns", "lunch", "column is missing", nil),
			wantMsg: "regselect: ValidateColumns: data error in column 'lunch': column is missing",
			check: func(err error) bool {
				var e *DataError
				return As(err, &e) && e.Column == "lunch"
			},
		},
		{
			name:    "persistence error",
			err:     NewPersistenceError("Save", "artifacts/model.json", cause),
			wantMsg: "regselect: Save: persistence error at 'artifacts/model.json': disk full",
			check: func(err error) bool {
				var e *PersistenceError
				return As(err, &e) && Is(err, cause)
			},
		},
		{
			name:    "training error",
			err:     NewTrainingError("Decision Tree", "fit", cause),
			wantMsg: "regselect: candidate 'Decision Tree' failed during fit: disk full",
			check: func(err error) bool {
				var e *TrainingError
				return As(err, &e) && e.Phase == "fit"
			},
		},
		{
			name:    "model quality error",
			err:     NewModelQualityError("Linear Regression", 0.25, 0.6),
			wantMsg: "regselect: no best model found: best candidate 'Linear Regression' scored 0.2500, below threshold 0.6000",
			check: func(err error) bool {
				var e *ModelQualityError
				return As(err, &e) && e.Threshold == 0.6
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.wantMsg)
			}
			if !tt.check(tt.err) {
				t.Errorf("error %v did not match its expected type", tt.err)
			}
		})
	}
}

func TestWrapKeepsType(t *testing.T) {
	err := Wrap(NewDataError("ReadCSV", "no header row"), "loading training data")

	var dataErr *DataError
	if !As(err, &dataErr) {
		t.Fatal("wrapped error should still be a *DataError")
	}
	if !strings.HasPrefix(err.Error(), "loading training data: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWarnUsesHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewUnknownCategoryWarning("gender", []string{"other"}, 2))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "column 'gender'") {
		t.Errorf("unexpected warning text %q", got[0].Error())
	}
}

func TestCheckMatrix(t *testing.T) {
	ok := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if err := CheckMatrix("test", ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := mat.NewDense(2, 2, []float64{1, 2, math.NaN(), 4})
	err := CheckMatrix("test", bad)
	var numErr *NumericalInstabilityError
	if !As(err, &numErr) {
		t.Fatalf("expected NumericalInstabilityError, got %v", err)
	}
	if numErr.Row != 1 || numErr.Col != 0 {
		t.Errorf("expected offending cell (1, 0), got (%d, %d)", numErr.Row, numErr.Col)
	}
}

func TestSafeDivide(t *testing.T) {
	if SafeDivide(1, 0) != 0 {
		t.Error("division by zero should return 0")
	}
	if SafeDivide(6, 3) != 2 {
		t.Error("6/3 should be 2")
	}
}

// TestRecover_WithPanic tests the Recover function when a panic occurs
func TestRecover_WithPanic(t *testing.T) {
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		panic("test panic message")
	}

	err := testFunc()
	if err == nil {
		t.Fatal("Expected error from recovered panic, got nil")
	}

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Expected PanicError, got %T", err)
	}
	if panicErr.Operation != "TestOperation" {
		t.Errorf("Expected operation 'TestOperation', got '%s'", panicErr.Operation)
	}
	if panicErr.StackTrace == "" {
		t.Error("Expected non-empty stack trace")
	}
	if panicErr.Error() != "panic in TestOperation: test panic message" {
		t.Errorf("unexpected message %q", panicErr.Error())
	}
}

// TestRecover_WithExistingError keeps the original error reachable
func TestRecover_WithExistingError(t *testing.T) {
	originalErr := errors.New("original error")
	testFunc := func() (err error) {
		defer Recover(&err, "TestOperation")
		err = originalErr
		panic("boom")
	}

	err := testFunc()
	if !errors.Is(err, originalErr) {
		t.Error("Should be able to identify original error with errors.Is")
	}
}

func TestSafeTrain(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		if err := SafeTrain("Linear Regression", "fit", func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("returned error", func(t *testing.T) {
		cause := errors.New("singular")
		err := SafeTrain("Linear Regression", "fit", func() error { return cause })
		var trainErr *TrainingError
		if !As(err, &trainErr) {
			t.Fatalf("expected TrainingError, got %T", err)
		}
		if !errors.Is(err, cause) {
			t.Error("cause should be reachable")
		}
	})

	t.Run("panic", func(t *testing.T) {
		err := SafeTrain("K-Neighbors Regressor", "predict", func() error {
			var s []int
			_ = s[3]
			return nil
		})
		var trainErr *TrainingError
		if !As(err, &trainErr) {
			t.Fatalf("expected TrainingError, got %T", err)
		}
		if trainErr.Phase != "predict" {
			t.Errorf("expected phase predict, got %s", trainErr.Phase)
		}
		var panicErr *PanicError
		if !As(err, &panicErr) {
			t.Error("panic should be preserved as the cause")
		}
	})
}
