package storage

const (
	// helpfulnessStep is the base fraction of the remaining distance moved
	// by one feedback event.
	helpfulnessStep = 0.1

	// weightLearningRate is the base step applied to a learning weight.
	weightLearningRate = 0.05

	minWeight = 0.05
	maxWeight = 1.0
)

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// satisfactionScale maps an optional satisfaction in [0,1] onto [0.5,1.5].
func satisfactionScale(satisfaction *float64) float64 {
	if satisfaction == nil {
		return 1.0
	}
	return 0.5 + Clamp01(*satisfaction)
}

// NextHelpfulness is the helpfulness step function shared by every backend.
//
// Helpful feedback moves the score a fraction of the way towards 1, unhelpful
// feedback a fraction of the way towards 0, so the result stays in [0,1] and
// changes strictly for any score in (0,1).
func NextHelpfulness(current float64, helpful bool, satisfaction *float64) float64 {
	current = Clamp01(current)
	step := helpfulnessStep * satisfactionScale(satisfaction)
	if helpful {
		return Clamp01(current + (1-current)*step)
	}
	return Clamp01(current - current*step)
}

// AdaptWeights applies one feedback event to a weight vector.
//
// Helpful results reinforce helpfulness and usage; unhelpful ones move weight
// from helpfulness towards recency. Each weight is bounded individually and
// the vector is deliberately not renormalised.
func AdaptWeights(w LearningWeights, helpful bool, satisfaction *float64) LearningWeights {
	rate := weightLearningRate * satisfactionScale(satisfaction)
	if helpful {
		w.HelpfulnessWeight += rate
		w.UsageWeight += rate / 2
	} else {
		w.HelpfulnessWeight -= rate
		w.RecencyWeight += rate / 2
	}
	w.UsageWeight = clampWeight(w.UsageWeight)
	w.RecencyWeight = clampWeight(w.RecencyWeight)
	w.HelpfulnessWeight = clampWeight(w.HelpfulnessWeight)
	w.RelationshipWeight = clampWeight(w.RelationshipWeight)
	return w
}

func clampWeight(v float64) float64 {
	if v < minWeight {
		return minWeight
	}
	if v > maxWeight {
		return maxWeight
	}
	return v
}
