package core

// Queue priority bounds. Higher claims earlier; ties break by age.
const (
	minPriority     = 0
	maxPriority     = 10
	basePriority    = 1
	rejudgePriority = 5
)

// PriorityInput carries the catalog read model that feeds the computation.
type PriorityInput struct {
	Role       string // "", "member", "moderator", "admin"
	Difficulty string // catalog difficulty slug, e.g. "very_easy"
	Rejudge    bool
}

// ComputePriority derives the enqueue priority: base 1, +3 for admins,
// +2 for moderators, +1 for very easy problems, and a floor of 5 for
// rejudges. Clamped to [0, 10].
func ComputePriority(in PriorityInput) int {
	priority := basePriority

	switch in.Role {
	case "admin":
		priority += 3
	case "moderator":
		priority += 2
	}

	switch in.Difficulty {
	case "very_easy", "very-easy":
		priority++
	}

	if in.Rejudge && priority < rejudgePriority {
		priority = rejudgePriority
	}

	if priority < minPriority {
		priority = minPriority
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return priority
}
