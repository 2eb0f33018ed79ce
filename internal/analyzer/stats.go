package analyzer

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/t77yq/maintenance-agent/internal/model"
)

// SignificanceLevel is the p-value cut-off for trend significance.
const SignificanceLevel = 0.05

// Mean is the arithmetic mean, 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// PopStdDev is the population standard deviation.
func PopStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}

// SampleVariance is the unbiased variance; 0 for fewer than two values.
func SampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil)
}

// ZScores standardizes values against their population mean and standard
// deviation. When the deviation is zero every score is zero.
func ZScores(values []float64) (z []float64, mean, std float64) {
	z = make([]float64, len(values))
	if len(values) == 0 {
		return z, 0, 0
	}
	clean := make([]float64, len(values))
	for i, v := range values {
		clean[i] = finiteOrZero(v)
	}
	mean = Mean(clean)
	std = PopStdDev(clean)
	if std == 0 {
		return z, mean, std
	}
	for i, v := range clean {
		z[i] = (v - mean) / std
	}
	return z, mean, std
}

// PctWorseThanBest is 100*(value-best)/best, or nil when best is not positive.
func PctWorseThanBest(value, best float64) *float64 {
	if best <= 0 {
		return nil
	}
	pct := 100 * (value - best) / best
	return &pct
}

// Regression is an ordinary least squares fit of y on x.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	PValue    float64 `json:"p_value"`
	N         int     `json:"n"`
}

// Regress fits y = intercept + slope*x and tests slope != 0 with a
// two-sided t-test on n-2 degrees of freedom. At least three points are needed.
func Regress(x, y []float64) (*Regression, error) {
	if len(x) != len(y) {
		return nil, model.NewError(model.KindInvalidInput, "regress", "x and y lengths differ (%d != %d)", len(x), len(y))
	}
	n := len(x)
	if n < 3 {
		return nil, model.NewError(model.KindInsufficientData, "regress", "need at least 3 points, got %d", n)
	}

	meanX := stat.Mean(x, nil)
	sxx := 0.0
	for _, v := range x {
		sxx += (v - meanX) * (v - meanX)
	}
	if sxx == 0 {
		return nil, model.NewError(model.KindInsufficientData, "regress", "x values are constant")
	}

	intercept, slope := stat.LinearRegression(x, y, nil, false)

	ssRes, ssTot := 0.0, 0.0
	meanY := stat.Mean(y, nil)
	for i := range x {
		res := y[i] - (intercept + slope*x[i])
		ssRes += res * res
		ssTot += (y[i] - meanY) * (y[i] - meanY)
	}

	r2 := 1.0
	if ssTot > 0 {
		r2 = stat.RSquared(x, y, nil, intercept, slope)
	}

	df := float64(n - 2)
	se := math.Sqrt(ssRes/df) / math.Sqrt(sxx)
	var p float64
	switch {
	case se == 0 && slope == 0:
		p = 1
	case se == 0:
		p = 0
	default:
		p = twoSidedP(slope/se, df)
	}

	return &Regression{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r2,
		PValue:    p,
		N:         n,
	}, nil
}

// Trend describes a per-period linear trend.
type Trend struct {
	Slope              float64 `json:"slope"`
	Intercept          float64 `json:"intercept"`
	PValue             float64 `json:"p_value"`
	RSquared           float64 `json:"r_squared"`
	StartingValue      float64 `json:"starting_value"`
	PctChangePerPeriod float64 `json:"pct_change_per_period"`
	Periods            int     `json:"periods_analyzed"`
	IsSignificant      bool    `json:"is_significant"`
}

// LinearTrend regresses values on their index 0..n-1. The per-period
// percentage change is relative to the fitted intercept when positive,
// otherwise to the first value, and is zero when that start is not positive.
func LinearTrend(values []float64) (*Trend, error) {
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}
	reg, err := Regress(x, values)
	if err != nil {
		return nil, err
	}

	start := reg.Intercept
	if start <= 0 {
		start = values[0]
	}
	pct := 0.0
	if start > 0 {
		pct = reg.Slope / start * 100
	}

	return &Trend{
		Slope:              reg.Slope,
		Intercept:          reg.Intercept,
		PValue:             reg.PValue,
		RSquared:           reg.RSquared,
		StartingValue:      start,
		PctChangePerPeriod: pct,
		Periods:            len(values),
		IsSignificant:      reg.PValue < SignificanceLevel,
	}, nil
}

// WelchTTest compares the means of a and b without assuming equal variances
// and returns the t statistic and two-sided p-value.
func WelchTTest(a, b []float64) (t, p float64, err error) {
	if len(a) < 2 || len(b) < 2 {
		return 0, 1, model.NewError(model.KindInsufficientData, "welch_t_test", "need at least 2 values per sample")
	}
	ma, mb := Mean(a), Mean(b)
	va := SampleVariance(a) / float64(len(a))
	vb := SampleVariance(b) / float64(len(b))
	se := math.Sqrt(va + vb)
	if se == 0 {
		if ma == mb {
			return 0, 1, nil
		}
		return math.Inf(sign(ma - mb)), 0, nil
	}
	t = (ma - mb) / se
	df := (va + vb) * (va + vb) / (va*va/float64(len(a)-1) + vb*vb/float64(len(b)-1))
	return t, twoSidedP(t, df), nil
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func twoSidedP(t, df float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
