package privacy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// DefaultOrders is the grid of Rényi orders every stage is evaluated on:
// a fine grid below 5, every integer up to 63 and three large orders.
var DefaultOrders = buildDefaultOrders()

func buildDefaultOrders() []float64 {
	orders := []float64{1.25, 1.5, 1.75, 2, 2.25, 2.5, 3, 3.5, 4, 4.5}
	for a := 5; a < 64; a++ {
		orders = append(orders, float64(a))
	}
	return append(orders, 128, 256, 512)
}

// maxSeriesTerms bounds the fractional-order series, which normally
// converges within a few dozen terms.
const maxSeriesTerms = 10000

// ComputeRDP returns the RDP of the sampled Gaussian mechanism with sampling
// ratio q and noise multiplier sigma, composed over steps, at every order.
// It panics unless q is in [0, 1] and sigma is positive.
func ComputeRDP(q, sigma float64, steps int, orders []float64) []float64 {
	if !(q >= 0 && q <= 1) {
		panic(fmt.Sprintf("privacy: sampling ratio %g outside [0, 1]", q))
	}
	if !(sigma > 0) {
		panic(fmt.Sprintf("privacy: noise multiplier %g must be positive", sigma))
	}
	rdp := make([]float64, len(orders))
	for i, alpha := range orders {
		rdp[i] = computeRDP(q, sigma, alpha) * float64(steps)
	}
	return rdp
}

// PrivacySpent converts an RDP curve into an (epsilon, delta) guarantee,
// returning the epsilon of the best order together with that order.
func PrivacySpent(orders, rdp []float64, delta float64) (float64, float64, float64, error) {
	if len(orders) != len(rdp) {
		return 0, 0, 0, fmt.Errorf("orders and rdp lengths differ: %d vs %d", len(orders), len(rdp))
	}
	if !(delta > 0) {
		return 0, 0, 0, fmt.Errorf("delta must be positive, got %g", delta)
	}

	best, bestOrder := math.Inf(1), math.NaN()
	for i, alpha := range orders {
		if !(alpha > 1) {
			continue
		}
		eps := rdp[i] - math.Log(delta)/(alpha-1)
		if math.IsNaN(eps) {
			continue
		}
		if eps < best {
			best, bestOrder = eps, alpha
		}
	}
	if math.IsNaN(bestOrder) {
		return 0, 0, 0, fmt.Errorf("no order above 1 gives a finite epsilon")
	}
	return best, delta, bestOrder, nil
}

func computeRDP(q, sigma, alpha float64) float64 {
	switch {
	case q == 0:
		return 0
	case q == 1:
		return alpha / (2 * sigma * sigma)
	case math.IsInf(alpha, 1):
		return math.Inf(1)
	}
	return computeLogA(q, sigma, alpha) / (alpha - 1)
}

func computeLogA(q, sigma, alpha float64) float64 {
	if alpha == math.Trunc(alpha) {
		return computeLogAInt(q, sigma, int(alpha))
	}
	return computeLogAFrac(q, sigma, alpha)
}

// computeLogAInt expands the moment as a binomial sum.
func computeLogAInt(q, sigma float64, alpha int) float64 {
	logA := math.Inf(-1)
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	a := float64(alpha)
	for i := 0; i <= alpha; i++ {
		fi := float64(i)
		logCoef := combin.LogGeneralizedBinomial(a, fi) + fi*logQ + (a-fi)*log1mQ
		logA = logAdd(logA, logCoef+(fi*fi-fi)/(2*sigma*sigma))
	}
	return logA
}

// computeLogAFrac evaluates the two-sided erfc series for fractional orders.
func computeLogAFrac(q, sigma, alpha float64) float64 {
	logA0, logA1 := math.Inf(-1), math.Inf(-1)
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	z0 := sigma*sigma*math.Log(1/q-1) + 0.5
	coef := 1.0
	for i := 0; i < maxSeriesTerms; i++ {
		fi := float64(i)
		j := alpha - fi
		logCoef := math.Log(math.Abs(coef))

		logT0 := logCoef + fi*logQ + j*log1mQ
		logT1 := logCoef + j*logQ + fi*log1mQ
		logE0 := math.Log(0.5) + logErfc((fi-z0)/(math.Sqrt2*sigma))
		logE1 := math.Log(0.5) + logErfc((z0-j)/(math.Sqrt2*sigma))
		logS0 := logT0 + (fi*fi-fi)/(2*sigma*sigma) + logE0
		logS1 := logT1 + (j*j-j)/(2*sigma*sigma) + logE1

		if coef > 0 {
			logA0 = logAdd(logA0, logS0)
			logA1 = logAdd(logA1, logS1)
		} else {
			logA0 = logSub(logA0, logS0)
			logA1 = logSub(logA1, logS1)
		}

		if math.Max(logS0, logS1) < -30 || math.IsNaN(logS0) || math.IsNaN(logS1) {
			break
		}
		coef *= (alpha - fi) / (fi + 1)
	}
	return logAdd(logA0, logA1)
}

func logAdd(x, y float64) float64 {
	a, b := math.Min(x, y), math.Max(x, y)
	if math.IsInf(a, -1) {
		return b
	}
	return math.Log1p(math.Exp(a-b)) + b
}

func logSub(x, y float64) float64 {
	if x < y {
		panic(fmt.Sprintf("privacy: log subtraction would be negative: %g - %g", x, y))
	}
	if math.IsInf(y, -1) {
		return x
	}
	if x == y {
		return math.Inf(-1)
	}
	d := math.Expm1(x - y)
	if math.IsInf(d, 1) {
		return x
	}
	return math.Log(d) + y
}

// smallestNormal is the least positive normal float64. math.Log is not
// accurate below it.
const smallestNormal = 0x1p-1022

// logErfc falls back to the asymptotic expansion where erfc leaves the
// normal range.
func logErfc(x float64) float64 {
	if r := math.Erfc(x); r >= smallestNormal {
		return math.Log(r)
	}
	return -math.Log(math.Pi)/2 - math.Log(x) - x*x - 0.5*math.Pow(x, -2) +
		0.625*math.Pow(x, -4) - 37.0/24.0*math.Pow(x, -6) + 353.0/64.0*math.Pow(x, -8)
}
