package privacy

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

func TestAnalyzeEndToEnd(t *testing.T) {
	logger, hook := test.NewNullLogger()
	accountant := NewAccountant(DefaultOrders, logger)

	report, err := accountant.Analyze(createTestParams())
	require.NoError(t, err)

	assert.InDelta(t, 37.974738887045, report.Epsilon, 1e-6)
	assert.False(t, math.IsInf(report.Epsilon, 0))
	assert.Equal(t, 1e-5, report.Delta)
	assert.Equal(t, 2.0, report.OptimalOrder)
	assert.InDelta(t, 0.001511612200, report.Ratios.PCA, 1e-9)
	assert.InDelta(t, 0.991995506177, report.Ratios.GMM, 1e-9)
	assert.InDelta(t, 0.006492881623, report.Ratios.SGD, 1e-9)
	assert.Equal(t, 1000, report.SGDSteps)
	assert.Equal(t, 105, report.GMMSteps)
	assert.InDelta(t, 0.01, report.SamplingRate, 1e-12)

	for _, r := range []float64{report.Ratios.PCA, report.Ratios.GMM, report.Ratios.SGD} {
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
	}
	assert.InDelta(t, 1.0, report.Ratios.Sum(), 1e-9)

	var sawRatio, sawEpsilon bool
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "ratio(pca:gmm:sgd):") {
			sawRatio = true
		}
		if strings.HasPrefix(entry.Message, "GMM + SGD + PCA (MA): ") && strings.HasSuffix(entry.Message, "-DP") {
			sawEpsilon = true
		}
	}
	assert.True(t, sawRatio)
	assert.True(t, sawEpsilon)
}

func TestAnalyzeZeroSGDSteps(t *testing.T) {
	accountant := NewAccountant(DefaultOrders, quietLogger())
	params := createTestParams()
	params.SGDEpochs = 0

	curves := accountant.Curves(params)
	for _, v := range curves.SGD {
		assert.Equal(t, 0.0, v)
	}

	report, err := accountant.Analyze(params)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SGDSteps)
	assert.Equal(t, 0.0, report.Ratios.SGD)

	pcaGMM := make([]float64, len(DefaultOrders))
	pca := ComputeRDP(1, params.PCASigma, 1, DefaultOrders)
	gmm := ComputeRDP(1, params.GMMSigma, params.GMMSteps(), DefaultOrders)
	for i := range pcaGMM {
		pcaGMM[i] = pca[i] + gmm[i]
	}
	eps, _, order, err := PrivacySpent(DefaultOrders, pcaGMM, params.Delta)
	require.NoError(t, err)
	assert.Equal(t, eps, report.Epsilon)
	assert.Equal(t, order, report.OptimalOrder)
}

func TestAnalyzeMoreNoiseLessEpsilon(t *testing.T) {
	accountant := NewAccountant(nil, quietLogger())
	base, err := accountant.Analyze(createTestParams())
	require.NoError(t, err)

	noisier := createTestParams()
	noisier.SGDSigma = 2
	noisier.GMMSigma = 4
	report, err := accountant.Analyze(noisier)
	require.NoError(t, err)

	assert.Less(t, report.Epsilon, base.Epsilon)
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := NewAccountant(DefaultOrders, quietLogger())
	first, err := a.Analyze(createTestParams())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := NewAccountant(DefaultOrders, quietLogger()).Analyze(createTestParams())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAnalyzeRejectsInvalidParams(t *testing.T) {
	accountant := NewAccountant(DefaultOrders, quietLogger())

	tests := []struct {
		name   string
		mutate func(p *models.PrivacyParams)
	}{
		{"zero sgd sigma", func(p *models.PrivacyParams) { p.SGDSigma = 0 }},
		{"negative pca sigma", func(p *models.PrivacyParams) { p.PCASigma = -1 }},
		{"zero lot size", func(p *models.PrivacyParams) { p.LotSize = 0 }},
		{"lot above data size", func(p *models.PrivacyParams) { p.LotSize, p.DataSize = 200, 100 }},
		{"delta of one", func(p *models.PrivacyParams) { p.Delta = 1 }},
		{"negative epochs", func(p *models.PrivacyParams) { p.SGDEpochs = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := createTestParams()
			tt.mutate(&params)
			_, err := accountant.Analyze(params)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidParameters)
		})
	}
}

func TestEpsilonMatchesAnalyze(t *testing.T) {
	eps, err := Epsilon(createTestParams(), quietLogger())
	require.NoError(t, err)

	report, err := NewAccountant(DefaultOrders, quietLogger()).Analyze(createTestParams())
	require.NoError(t, err)
	assert.Equal(t, report.Epsilon, eps)
}

func TestNewAccountantCopiesOrders(t *testing.T) {
	orders := []float64{2, 4, 8}
	accountant := NewAccountant(orders, quietLogger())
	orders[0] = 100
	assert.Equal(t, []float64{2, 4, 8}, accountant.Orders())
}

// Helper functions

func createTestParams() models.PrivacyParams {
	return models.PrivacyParams{
		LotSize:       100,
		DataSize:      10000,
		SGDSigma:      1.0,
		GMMSigma:      2.0,
		PCASigma:      5.0,
		GMMIterations: 5,
		GMMComponents: 10,
		SGDEpochs:     10,
		Delta:         1e-5,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
