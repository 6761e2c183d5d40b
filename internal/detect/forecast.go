package detect

import "math"

// Holt-Winters smoothing coefficients. Fixed; the tunable parts of the
// forecast contract are the confidence interval and breach count.
const (
	smoothLevel    = 0.35
	smoothTrend    = 0.10
	smoothSeasonal = 0.20
)

// forecaster holds an additive trend+seasonality decomposition for one
// metric key. It is immutable after training; prediction intervals widen
// with the number of steps since the last retrain.
type forecaster struct {
	level    float64
	trend    float64
	seasonal []float64
	period   int
	residStd float64
	trained  int // samples consumed during training
}

// trainForecaster fits level/trend (and optionally an additive seasonal
// cycle of the given period) over the series and records the residual
// spread for interval construction.
func trainForecaster(values []float64, period int) *forecaster {
	if len(values) < 2 {
		return nil
	}

	f := &forecaster{
		level:   values[0],
		trend:   values[1] - values[0],
		period:  period,
		trained: len(values),
	}
	if period > 1 && len(values) >= 2*period {
		f.seasonal = make([]float64, period)
		// Seed seasonal offsets from the first cycle against its mean.
		cycleMean := 0.0
		for i := 0; i < period; i++ {
			cycleMean += values[i]
		}
		cycleMean /= float64(period)
		for i := 0; i < period; i++ {
			f.seasonal[i] = values[i] - cycleMean
		}
	} else {
		f.period = 0
	}

	var residuals []float64
	for i := 1; i < len(values); i++ {
		seasonal := 0.0
		if f.period > 0 {
			seasonal = f.seasonal[i%f.period]
		}
		predicted := f.level + f.trend + seasonal
		observed := values[i]
		residuals = append(residuals, observed-predicted)

		prevLevel := f.level
		f.level = smoothLevel*(observed-seasonal) + (1-smoothLevel)*(f.level+f.trend)
		f.trend = smoothTrend*(f.level-prevLevel) + (1-smoothTrend)*f.trend
		if f.period > 0 {
			f.seasonal[i%f.period] = smoothSeasonal*(observed-f.level) + (1-smoothSeasonal)*f.seasonal[i%f.period]
		}
	}

	f.residStd = stdDev(residuals)
	if f.residStd == 0 {
		f.residStd = 1e-6
	}
	return f
}

// forecast predicts the value `steps` samples after the training horizon
// and the half-width of the confidence band at the given z value.
func (f *forecaster) forecast(steps int, z float64) (predicted, margin float64) {
	if steps < 1 {
		steps = 1
	}
	seasonal := 0.0
	if f.period > 0 {
		seasonal = f.seasonal[(f.trained+steps-1)%f.period]
	}
	predicted = f.level + f.trend*float64(steps) + seasonal
	margin = z * f.residStd * math.Sqrt(float64(steps))
	return predicted, margin
}

// zFromConfidence converts a two-sided confidence level (e.g. 0.95) to
// the matching normal quantile.
func zFromConfidence(confidence float64) float64 {
	if confidence <= 0 || confidence >= 1 {
		return 1.96
	}
	return math.Sqrt2 * math.Erfinv(confidence)
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}
