// Package log defines standard attribute keys for pipeline operations.
//
// Using these keys across the transformer, the selector and the CLI keeps log
// records queryable: a run can be reconstructed by filtering on ml.operation
// and run.id.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the candidate algorithm or transformer step.
	// Examples: "Random Forest", "StandardScaler"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is performing the operation.
	// Examples: "feature_transformer", "model_selector", "cli"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	PhaseKey = "ml.phase"

	// RunIDKey carries the identifier of one pipeline run.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// SplitKey names the split a record set belongs to ("train" or "test").
	SplitKey = "data.split"

	// NumericColumnsKey lists the numeric feature columns of the schema.
	NumericColumnsKey = "schema.numeric_columns"

	// CategoricalColumnsKey lists the categorical feature columns of the schema.
	CategoricalColumnsKey = "schema.categorical_columns"

	// TargetColumnKey names the target column of the schema.
	TargetColumnKey = "schema.target_column"

	// ColumnKey names the column a data error refers to.
	ColumnKey = "data.column"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// R2ScoreKey records R² coefficient of determination for regression.
	// Range [-∞, 1.0], with 1.0 being perfect prediction.
	R2ScoreKey = "metrics.r2_score"

	// ThresholdKey records the quality gate applied to the best score.
	ThresholdKey = "metrics.threshold"
)

// Artifacts
const (
	// ArtifactPathKey is the filesystem path of a persisted artifact.
	ArtifactPathKey = "artifact.path"

	// ArtifactKindKey is "transformer" or "model".
	ArtifactKindKey = "artifact.kind"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"
)

// Standard attribute value constants for common operations.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationPersist      = "persist"
	OperationSelect       = "select"

	PhaseTraining      = "training"
	PhasePreprocessing = "preprocessing"
	PhaseSelection     = "selection"
	PhaseInference     = "inference"

	ErrorDataInvalid       = "DATA_INVALID"
	ErrorPersistence       = "PERSISTENCE_FAILURE"
	ErrorTraining          = "TRAINING_FAILURE"
	ErrorQualityGate       = "QUALITY_GATE"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
)
