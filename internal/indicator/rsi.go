// Package indicator provides technical analysis indicators for financial markets
package indicator

// RSI computes the relative strength index incrementally, one close at a
// time, using Wilder's smoothing. Values are undefined until `period` closes
// have been seen.
type RSI struct {
	period  int
	seen    int
	last    float64
	gainSum float64
	lossSum float64
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		period = 14
	}
	return &RSI{period: period}
}

// Update feeds the next close and returns the current RSI value. ok is false
// while the indicator is still warming up.
func (r *RSI) Update(close float64) (float64, bool) {
	if r.seen == 0 {
		r.seen = 1
		r.last = close
		return 0, false
	}

	change := close - r.last
	r.last = close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	r.seen++

	// Seed the averages over the first full period, then switch to Wilder's
	// smoothing.
	if r.seen <= r.period {
		r.gainSum += gain
		r.lossSum += loss
		if r.seen < r.period {
			return 0, false
		}
		r.avgGain = r.gainSum / float64(r.period)
		r.avgLoss = r.lossSum / float64(r.period)
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	return r.value(), true
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - (100 / (1 + rs))
}
