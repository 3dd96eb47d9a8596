// Package content supplies questions and category material to the round
// handlers. Sources may be backed by an external question service; the static
// source is always available and backs the deterministic fallback path.
package content

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
)

// Source returns up to count questions for a category or specialist topic.
// A source that cannot serve the request returns CodeUnavailable; callers
// fall back to the static pool.
type Source interface {
	Questions(ctx context.Context, topic string, count int) ([]domain.Question, error)
}

// Categories is the built-in category pool used when a session configures
// none of its own.
var Categories = []string{
	"Animals", "Countries", "Cities", "Foods", "Movies", "Books", "TV Shows",
	"Sports", "Cars", "Colors", "Fruits", "Vegetables", "Flowers", "Clothing",
	"Musical Instruments", "Board Games", "Video Games", "Celebrities",
	"Fictional Characters", "Superheroes", "School Subjects", "Job Titles",
	"Things in a Kitchen", "Things in a Bedroom", "Things at the Beach",
	"Things that Fly", "Things that are Round", "Things that are Red",
	"Boys Names", "Girls Names", "Last Names", "Brand Names", "Restaurants",
	"Hobbies", "Toys", "Cartoon Characters", "Disney Movies", "Pizza Toppings",
	"Ice Cream Flavors", "Things in Space", "Ocean Creatures", "Farm Animals",
	"Wild Animals", "Types of Birds", "Types of Fish", "Insects", "Trees",
	"Things Made of Metal", "Things Made of Wood", "Electronics", "Tools",
	"Things in a Hospital", "Things in a School", "Types of Weather",
}

// Letters is the prompt-letter alphabet.
var Letters = []string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
}

var fallbackQuestions = []domain.Question{
	{
		Text:     "What is the largest mammal in the world?",
		Choices:  []string{"Blue Whale", "African Elephant", "Giraffe", "Hippopotamus"},
		Correct:  "Blue Whale",
		Category: "Animals",
	},
	{
		Text:     "What is the smallest country in the world?",
		Choices:  []string{"Monaco", "Vatican City", "San Marino", "Liechtenstein"},
		Correct:  "Vatican City",
		Category: "Geography",
	},
	{
		Text:     "What is the largest bone in the human body?",
		Choices:  []string{"Femur", "Tibia", "Humerus", "Fibula"},
		Correct:  "Femur",
		Category: "Science",
	},
}

// FallbackQuestion picks one built-in question using the caller's seeded rng.
func FallbackQuestion(rng *rand.Rand) domain.Question {
	return fallbackQuestions[rng.Intn(len(fallbackQuestions))]
}

// Static is a Source that serves only the built-in pool. It never fails, so
// rounds can always be generated even with no external question service
// configured.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (s *Static) Questions(_ context.Context, topic string, count int) ([]domain.Question, error) {
	if count <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("count must be positive, got %d", count))
	}

	qs := make([]domain.Question, 0, count)
	for i := 0; i < count; i++ {
		q := fallbackQuestions[i%len(fallbackQuestions)]
		if topic != "" {
			q.Category = topic
		}
		// Disambiguate repeats so a rapid-fire set keeps distinct prompts.
		if i >= len(fallbackQuestions) {
			q.Text = fmt.Sprintf("%s (%d)", q.Text, i/len(fallbackQuestions)+1)
		}
		qs = append(qs, q)
	}
	return qs, nil
}
