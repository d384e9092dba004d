package privacy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

// Budget is an epsilon ceiling that certified training runs are charged
// against. Runs compose by basic composition: epsilons and deltas add up.
type Budget struct {
	mu           sync.RWMutex
	maxEpsilon   float64
	maxDelta     float64
	spentEpsilon float64
	spentDelta   float64
	transactions []BudgetTransaction
}

// BudgetTransaction records one charged training run.
type BudgetTransaction struct {
	ID        string    `json:"id"`
	Purpose   string    `json:"purpose"`
	Epsilon   float64   `json:"epsilon"`
	Delta     float64   `json:"delta"`
	Order     float64   `json:"order"`
	Timestamp time.Time `json:"timestamp"`
}

// BudgetStatus summarises the remaining budget.
type BudgetStatus struct {
	MaxEpsilon       float64 `json:"max_epsilon"`
	MaxDelta         float64 `json:"max_delta"`
	SpentEpsilon     float64 `json:"spent_epsilon"`
	SpentDelta       float64 `json:"spent_delta"`
	RemainingEpsilon float64 `json:"remaining_epsilon"`
	Transactions     int     `json:"transactions"`
}

// NewBudget creates a budget. A zero maxDelta leaves delta unbounded.
func NewBudget(maxEpsilon, maxDelta float64) (*Budget, error) {
	if !(maxEpsilon > 0) {
		return nil, fmt.Errorf("max epsilon must be positive, got %g", maxEpsilon)
	}
	if maxDelta < 0 || maxDelta >= 1 {
		return nil, fmt.Errorf("max delta must be in [0, 1), got %g", maxDelta)
	}
	return &Budget{maxEpsilon: maxEpsilon, maxDelta: maxDelta}, nil
}

// Check reports whether the run described by report still fits the budget
// without charging it.
func (b *Budget) Check(report *models.PrivacyReport) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checkLocked(report)
}

// Spend charges report against the budget.
func (b *Budget) Spend(purpose string, report *models.PrivacyReport) (*BudgetTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkLocked(report); err != nil {
		return nil, err
	}

	tx := BudgetTransaction{
		ID:        uuid.New().String(),
		Purpose:   purpose,
		Epsilon:   report.Epsilon,
		Delta:     report.Delta,
		Order:     report.OptimalOrder,
		Timestamp: time.Now(),
	}
	b.transactions = append(b.transactions, tx)
	b.spentEpsilon += report.Epsilon
	b.spentDelta += report.Delta
	return &tx, nil
}

// Status returns the current budget state.
func (b *Budget) Status() BudgetStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BudgetStatus{
		MaxEpsilon:       b.maxEpsilon,
		MaxDelta:         b.maxDelta,
		SpentEpsilon:     b.spentEpsilon,
		SpentDelta:       b.spentDelta,
		RemainingEpsilon: math.Max(0, b.maxEpsilon-b.spentEpsilon),
		Transactions:     len(b.transactions),
	}
}

// Transactions returns a copy of the charged runs.
func (b *Budget) Transactions() []BudgetTransaction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]BudgetTransaction(nil), b.transactions...)
}

func (b *Budget) checkLocked(report *models.PrivacyReport) error {
	if report == nil {
		return errors.NewValidationError(errors.CodeMissingField, "privacy report is required")
	}
	if b.spentEpsilon+report.Epsilon > b.maxEpsilon {
		return errors.WrapError(errors.ErrPrivacyBudgetExceeded, errors.ErrorTypePrivacy, errors.CodePrivacyBudgetExceeded,
			fmt.Sprintf("epsilon %g exceeds remaining budget %g", report.Epsilon, b.maxEpsilon-b.spentEpsilon))
	}
	if b.maxDelta > 0 && b.spentDelta+report.Delta > b.maxDelta {
		return errors.WrapError(errors.ErrPrivacyBudgetExceeded, errors.ErrorTypePrivacy, errors.CodePrivacyBudgetExceeded,
			fmt.Sprintf("delta %g exceeds remaining budget %g", report.Delta, b.maxDelta-b.spentDelta))
	}
	return nil
}
