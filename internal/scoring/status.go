package scoring

// Lead statuses in ascending order of intent.
const (
	StatusCurious    = "curious"
	StatusEngaged    = "engaged"
	StatusHighIntent = "high_intent"
	StatusHot        = "hot"
)

const (
	engagedFloor    = 10
	highIntentFloor = 25
	hotFloor        = 45
)

// Classify maps a cumulative engagement score to a status.
func Classify(score int) string {
	switch {
	case score >= hotFloor:
		return StatusHot
	case score >= highIntentFloor:
		return StatusHighIntent
	case score >= engagedFloor:
		return StatusEngaged
	default:
		return StatusCurious
	}
}

// Rank orders statuses; unknown statuses rank below curious.
func Rank(status string) int {
	switch status {
	case StatusCurious:
		return 0
	case StatusEngaged:
		return 1
	case StatusHighIntent:
		return 2
	case StatusHot:
		return 3
	default:
		return -1
	}
}
