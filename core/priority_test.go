package core

import "testing"

func TestComputePriority(t *testing.T) {
	tests := []struct {
		name string
		in   PriorityInput
		want int
	}{
		{"member default", PriorityInput{Role: "member"}, 1},
		{"anonymous default", PriorityInput{}, 1},
		{"moderator", PriorityInput{Role: "moderator"}, 3},
		{"admin", PriorityInput{Role: "admin"}, 4},
		{"very easy bump", PriorityInput{Difficulty: "very_easy"}, 2},
		{"very easy hyphen", PriorityInput{Difficulty: "very-easy"}, 2},
		{"admin very easy", PriorityInput{Role: "admin", Difficulty: "very_easy"}, 5},
		{"rejudge floor", PriorityInput{Rejudge: true}, 5},
		{"rejudge keeps higher", PriorityInput{Role: "admin", Difficulty: "very_easy", Rejudge: true}, 5},
		{"other difficulty ignored", PriorityInput{Difficulty: "hard"}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputePriority(tc.in); got != tc.want {
				t.Fatalf("priority = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestComputePriorityClamped(t *testing.T) {
	got := ComputePriority(PriorityInput{Role: "admin", Difficulty: "very_easy", Rejudge: true})
	if got < minPriority || got > maxPriority {
		t.Fatalf("priority %d outside [%d, %d]", got, minPriority, maxPriority)
	}
}
