package academics

import "math"

// DefaultThreshold is the minimum attendance percentage the portal enforces
// unless the student asks for something else.
const DefaultThreshold = 75.0

// Unreachable is returned by ClassesNeeded when no number of attended
// classes can lift the ratio to the threshold (only possible at 100%).
const Unreachable = -1

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AttendancePercentage returns attended/total as a percentage rounded to two
// decimals, or 0 when no classes were held.
func AttendancePercentage(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(attended) / float64(total) * 100)
}

func validThreshold(threshold float64) bool {
	return threshold > 0 && threshold <= 100
}

// meets reports whether attended/total is at or above threshold. An empty
// record never meets a threshold.
func meets(attended, total int, threshold float64) bool {
	if total <= 0 {
		return false
	}
	return float64(attended)/float64(total)*100 >= threshold
}

// BunkableClasses returns how many further classes can be missed in a row
// before attended/total drops below threshold.
func BunkableClasses(attended, total int, threshold float64) int {
	if !validThreshold(threshold) || total == 0 {
		return 0
	}
	if !meets(attended, total, threshold) {
		return 0
	}

	k := int(math.Floor(float64(attended)*100/threshold - float64(total)))
	if k < 0 {
		k = 0
	}
	// The closed form can land one off on float boundaries; settle it
	// against the same comparison callers use.
	for k > 0 && !meets(attended, total+k, threshold) {
		k--
	}
	for meets(attended, total+k+1, threshold) {
		k++
	}
	return k
}

// ClassesNeeded returns how many consecutive classes must be attended to
// bring attended/total up to threshold. It returns 0 when the threshold is
// already met and Unreachable when the threshold is 100 and a class has
// already been missed.
func ClassesNeeded(attended, total int, threshold float64) int {
	if !validThreshold(threshold) {
		return 0
	}
	if total > 0 && meets(attended, total, threshold) {
		return 0
	}
	if threshold == 100 {
		if total > attended {
			return Unreachable
		}
		return 1
	}

	k := int(math.Ceil((threshold*float64(total) - 100*float64(attended)) / (100 - threshold)))
	if k < 0 {
		k = 0
	}
	for k > 0 && meets(attended+k-1, total+k-1, threshold) {
		k--
	}
	for !meets(attended+k, total+k, threshold) {
		k++
	}
	return k
}
