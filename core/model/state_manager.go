package model

import (
	"sync"

	scierrors "github.com/YuminosukeSato/regselect/pkg/errors"
)

// StateManager manages the fitted state of a model in a thread-safe manner.
// Every regressor and transformer in the module embeds one by composition.
type StateManager struct {
	mu     sync.RWMutex
	fitted bool

	nFeatures int
	nSamples  int
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// SetFitted marks the model as fitted with the dimensions seen during fitting.
func (s *StateManager) SetFitted(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = true
	s.nFeatures = nFeatures
	s.nSamples = nSamples
}

// Reset resets the fitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fitted = false
	s.nFeatures = 0
	s.nSamples = 0
}

// Dimensions returns the number of features and samples seen during fitting.
func (s *StateManager) Dimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nFeatures, s.nSamples
}

// RequireFitted returns a NotFittedError if the model has not been fitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return scierrors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures checks that a matrix passed to Predict or Transform has the
// same width as the one seen during fitting.
func (s *StateManager) RequireFeatures(op string, got int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if got != s.nFeatures {
		return scierrors.NewDimensionError(op, s.nFeatures, got, 1)
	}
	return nil
}

// ModelState represents the persisted part of a model's state.
type ModelState struct {
	NFeatures int `json:"n_features"`
	NSamples  int `json:"n_samples,omitempty"`
}

// State returns the current state as a ModelState struct.
func (s *StateManager) State() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelState{NFeatures: s.nFeatures, NSamples: s.nSamples}
}

// Restore marks the model fitted from a previously persisted state.
func (s *StateManager) Restore(state ModelState) {
	s.SetFitted(state.NFeatures, state.NSamples)
}
