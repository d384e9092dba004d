package privacy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

// Accountant sums the RDP cost of the PCA, mixture-fit and DP-SGD stages
// and converts it into a single (epsilon, delta) guarantee.
type Accountant struct {
	orders []float64
	logger *logrus.Logger
}

// StageCurves holds the per-order RDP of each stage and their sum.
type StageCurves struct {
	PCA   []float64
	GMM   []float64
	SGD   []float64
	Total []float64
}

// NewAccountant creates an accountant over the given order grid.
// A nil or empty grid selects DefaultOrders.
func NewAccountant(orders []float64, logger *logrus.Logger) *Accountant {
	if len(orders) == 0 {
		orders = DefaultOrders
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Accountant{
		orders: append([]float64(nil), orders...),
		logger: logger,
	}
}

// Orders returns a copy of the order grid.
func (a *Accountant) Orders() []float64 {
	return append([]float64(nil), a.orders...)
}

// Curves evaluates every stage on the order grid.
func (a *Accountant) Curves(params models.PrivacyParams) StageCurves {
	pca := ComputeRDP(1, params.PCASigma, 1, a.orders)

	var sgd []float64
	if steps := params.SGDSteps(); steps == 0 {
		sgd = make([]float64, len(a.orders))
	} else {
		sgd = ComputeRDP(params.SamplingRatio(), params.SGDSigma, steps, a.orders)
	}

	gmm := ComputeRDP(1, params.GMMSigma, params.GMMSteps(), a.orders)

	total := make([]float64, len(a.orders))
	for i := range total {
		total[i] = pca[i] + gmm[i] + sgd[i]
	}
	return StageCurves{PCA: pca, GMM: gmm, SGD: sgd, Total: total}
}

// Analyze certifies the privacy cost of a full training run.
func (a *Accountant) Analyze(params models.PrivacyParams) (*models.PrivacyReport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	curves := a.Curves(params)
	eps, delta, order, err := PrivacySpent(a.orders, curves.Total, params.Delta)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypePrivacy, errors.CodeInternalError, "failed to convert RDP to epsilon")
	}

	idx := indexOf(a.orders, order)
	total := curves.Total[idx]
	ratios := models.StageRatios{
		PCA: curves.PCA[idx] / total,
		GMM: curves.GMM[idx] / total,
		SGD: curves.SGD[idx] / total,
	}

	a.logger.Infof("ratio(pca:gmm:sgd):%v:%v:%v", ratios.PCA, ratios.GMM, ratios.SGD)
	a.logger.Infof("GMM + SGD + PCA (MA): %v, %v-DP", eps, delta)
	a.logger.WithFields(logrus.Fields{
		"epsilon":   eps,
		"delta":     delta,
		"order":     order,
		"sgd_steps": params.SGDSteps(),
		"gmm_steps": params.GMMSteps(),
	}).Debug("Privacy analysis completed")

	return &models.PrivacyReport{
		Epsilon:      eps,
		Delta:        delta,
		OptimalOrder: order,
		Ratios:       ratios,
		SGDSteps:     params.SGDSteps(),
		GMMSteps:     params.GMMSteps(),
		SamplingRate: params.SamplingRatio(),
	}, nil
}

// Epsilon returns only the epsilon of Analyze on the default grid.
func Epsilon(params models.PrivacyParams, logger *logrus.Logger) (float64, error) {
	report, err := NewAccountant(DefaultOrders, logger).Analyze(params)
	if err != nil {
		return 0, err
	}
	return report.Epsilon, nil
}

func indexOf(orders []float64, order float64) int {
	for i, o := range orders {
		if o == order {
			return i
		}
	}
	panic(fmt.Sprintf("privacy: order %g not in grid", order))
}
