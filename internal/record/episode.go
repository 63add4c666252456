package record

import "time"

var stageRank = map[Stage]int{
	StageMentioned:     0,
	StageExplored:      1,
	StageCharacterized: 2,
	StageLinked:        3,
}

// StageForDetail derives the stage an episode has earned from how many
// descriptive fields are populated. Linked is never derived here; only an
// explicit link sets it.
func StageForDetail(e *Episode) Stage {
	filled := 0
	if e.Severity > 0 {
		filled++
	}
	if e.Location != "" {
		filled++
	}
	if e.Frequency != "" {
		filled++
	}
	if len(e.Triggers) > 0 {
		filled++
	}
	if len(e.Relievers) > 0 {
		filled++
	}
	if e.Pattern != "" {
		filled++
	}
	switch {
	case filled >= 3:
		return StageCharacterized
	case filled >= 1:
		return StageExplored
	default:
		return StageMentioned
	}
}

// AdvanceStage moves the episode to the target stage if it is later than the
// current one. Stages never regress.
func (e *Episode) AdvanceStage(target Stage) {
	if stageRank[target] > stageRank[e.Stage] {
		e.Stage = target
	}
}

// Resolve marks the episode resolved and stamps the resolution time.
func (e *Episode) Resolve(at time.Time) {
	e.Status = StatusResolved
	e.ResolvedAt = &at
}

// IsOpen reports whether the episode still counts for duplicate suppression.
func (e *Episode) IsOpen() bool {
	return e.Status == StatusActive
}
