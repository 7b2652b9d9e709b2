package session

// Classification is the consensus state derived from a finding's validations.
// It is computed on read and never stored.
type Classification string

const (
	// ClassUnderReview indicates no confirming or challenging validations yet.
	ClassUnderReview Classification = "under_review"

	// ClassValidated indicates at least one confirmation and no challenges.
	ClassValidated Classification = "validated"

	// ClassChallenged indicates at least one challenge and no confirmations.
	ClassChallenged Classification = "challenged"

	// ClassDisputed indicates both confirmations and challenges exist.
	// Disputed is absorbing: further validations of either kind never move a
	// finding out of it.
	ClassDisputed Classification = "disputed"
)

// Classify derives a finding's classification from its validation multiset.
// Only confirmed and challenged validations move the classification; partial
// and inconclusive judgments leave it unchanged. The result is independent of
// the order validations arrived in.
func Classify(f *Finding) Classification {
	confirmed, challenged := 0, 0
	for _, v := range f.Validations {
		switch v.Status {
		case ValidationConfirmed:
			confirmed++
		case ValidationChallenged:
			challenged++
		}
	}

	switch {
	case confirmed > 0 && challenged > 0:
		return ClassDisputed
	case confirmed > 0:
		return ClassValidated
	case challenged > 0:
		return ClassChallenged
	default:
		return ClassUnderReview
	}
}

// ConsensusRate is the fraction of a session's findings classified validated.
// Returns 0 for a session with no findings.
func ConsensusRate(findings []Finding) float64 {
	if len(findings) == 0 {
		return 0
	}

	validated := 0
	for i := range findings {
		if Classify(&findings[i]) == ClassValidated {
			validated++
		}
	}
	return float64(validated) / float64(len(findings))
}
