package domain

import "math"

// ClassifySignificance maps USGS significance to Low (<100), Moderate
// (100..499) or High (>=500). Exactly 500 is High. Returns nil when sig is unset.
func ClassifySignificance(sig *int) *SigClass {
	if sig == nil {
		return nil
	}

	var c SigClass
	switch s := *sig; {
	case s < 100:
		c = SigLow
	case s < 500:
		c = SigModerate
	default:
		c = SigHigh
	}
	return &c
}

// ClassifyMagnitude maps magnitude to its ordinal class. It is total: unset
// and NaN inputs are Minor.
func ClassifyMagnitude(mag *float64) MagClass {
	if mag == nil || math.IsNaN(*mag) {
		return MagMinor
	}

	switch m := *mag; {
	case m >= 8.0:
		return MagGreat
	case m >= 7.0:
		return MagMajor
	case m >= 6.0:
		return MagStrong
	case m > 2.5:
		return MagLight
	default:
		return MagMinor
	}
}

// Classify returns a copy of rec with both classification fields set.
func Classify(rec EnrichedRecord) EnrichedRecord {
	rec.SigClass = ClassifySignificance(rec.Sig)
	rec.MagClass = ClassifyMagnitude(rec.Mag)
	return rec
}
