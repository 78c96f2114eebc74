package reports

import (
	"context"
	"log/slog"
	"strings"

	"daybook/internal/types"
)

// ActivityCategory buckets a log entry by the kind of activity it records.
type ActivityCategory string

const (
	CategoryWork     ActivityCategory = "work"
	CategoryHealth   ActivityCategory = "health"
	CategoryMeal     ActivityCategory = "meal"
	CategorySleep    ActivityCategory = "sleep"
	CategoryLearning ActivityCategory = "learning"
	CategoryOther    ActivityCategory = "other"
)

// categoryKeywords drives the keyword classifier. Matching is substring,
// case-insensitive, first category wins in declaration order.
var categoryKeywords = []struct {
	category ActivityCategory
	words    []string
}{
	{CategoryWork, []string{"meeting", "work", "deploy", "review", "standup", "仕事", "会議"}},
	{CategoryHealth, []string{"gym", "run", "walk", "workout", "exercise", "運動", "散歩"}},
	{CategoryMeal, []string{"breakfast", "lunch", "dinner", "meal", "coffee", "朝食", "昼食", "夕食"}},
	{CategorySleep, []string{"sleep", "nap", "wake", "bed", "就寝", "起床"}},
	{CategoryLearning, []string{"read", "study", "course", "book", "勉強", "読書"}},
}

// KeywordClassifier assigns an activity category to recovered entries by
// keyword matching. It implements types.Classifier; misses fall through to
// CategoryOther rather than erroring, so recovery throughput is never
// affected by classification.
type KeywordClassifier struct {
	logger *slog.Logger
}

// NewKeywordClassifier creates the classifier.
func NewKeywordClassifier(logger *slog.Logger) *KeywordClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeywordClassifier{logger: logger}
}

// Classify implements types.Classifier.
func (c *KeywordClassifier) Classify(ctx context.Context, entry types.RecoveredEntry) error {
	category := Categorize(entry.Content)
	c.logger.Info("entry classified",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"business_date", entry.BusinessDate.Format("2006-01-02"),
		"category", string(category),
	)
	return nil
}

// Categorize maps free-form log text to an activity category.
func Categorize(content string) ActivityCategory {
	lowered := strings.ToLower(content)
	for _, group := range categoryKeywords {
		for _, word := range group.words {
			if strings.Contains(lowered, word) {
				return group.category
			}
		}
	}
	return CategoryOther
}
