package alerts

import "chillerhub/internal/models"

// Evaluate applies op to actual and threshold. Comparison is exact with no
// tolerance. Unknown operators never match.
func Evaluate(op models.Operator, actual, threshold float64) bool {
	switch op {
	case models.OperatorGT:
		return actual > threshold
	case models.OperatorLT:
		return actual < threshold
	case models.OperatorGTE:
		return actual >= threshold
	case models.OperatorLTE:
		return actual <= threshold
	default:
		return false
	}
}
