package reports

import (
	"context"
	"testing"
	"time"

	"daybook/internal/types"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		content string
		want    ActivityCategory
	}{
		{"Morning standup with the team", CategoryWork},
		{"went for a run before breakfast", CategoryHealth},
		{"lunch at the new ramen place", CategoryMeal},
		{"finally in bed", CategorySleep},
		{"reading a book on distributed systems", CategoryLearning},
		{"昼食を食べた", CategoryMeal},
		{"watered the plants", CategoryOther},
		{"", CategoryOther},
	}

	for _, tc := range tests {
		if got := Categorize(tc.content); got != tc.want {
			t.Errorf("Categorize(%q) = %s, want %s", tc.content, got, tc.want)
		}
	}
}

func TestKeywordClassifier_NeverErrors(t *testing.T) {
	c := NewKeywordClassifier(nil)
	entry := types.RecoveredEntry{
		ID:           "e1",
		UserID:       "U1",
		Content:      "untaggable content",
		BusinessDate: time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
	}

	if err := c.Classify(context.Background(), entry); err != nil {
		t.Fatalf("Classify: %v", err)
	}
}
