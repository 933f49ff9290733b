// Package seedtool generates synthetic ranking traffic against a running
// fanout instance.
package seedtool

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/keytempo/fanout/internal/domain/model"
)

// Topic vocabulary for generated traffic.
var (
	modes      = []string{"race", "practice"}
	timeframes = []string{"daily", "weekly", "alltime", model.TimeframeAll}
	languages  = []string{"en", "de", "fr", "es"}
)

// Generation ranges.
const (
	maxRank       = 100
	minWPM        = 30.0
	wpmRange      = 120.0
	minAccuracy   = 0.85
	accuracyRange = 0.15
	maxChanges    = 5
	removedChance = 0.15
)

// Generator produces synthetic deltas over a fixed user population.
type Generator struct {
	rng   *rand.Rand
	users []string
}

// NewGenerator creates a generator with population users.
func NewGenerator(population int, seed int64) *Generator {
	if population <= 0 {
		population = 100
	}
	users := make([]string, population)
	for i := range users {
		users[i] = uuid.NewString()
	}
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		users: users,
	}
}

// Users returns the generated user population.
func (g *Generator) Users() []string {
	return g.users
}

// Delta produces one synthetic delta on a random topic.
func (g *Generator) Delta() model.Delta {
	topic := model.Topic{
		Mode:      modes[g.rng.Intn(len(modes))],
		Timeframe: timeframes[g.rng.Intn(len(timeframes))],
		Language:  languages[g.rng.Intn(len(languages))],
	}

	n := 1 + g.rng.Intn(maxChanges)
	changes := make([]model.Change, 0, n)
	seen := make(map[string]struct{}, n)
	for len(changes) < n {
		userID := g.users[g.rng.Intn(len(g.users))]
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		changes = append(changes, g.change(userID))
	}

	var removed []string
	if g.rng.Float64() < removedChance {
		removed = []string{g.users[g.rng.Intn(len(g.users))]}
	}

	return model.Delta{
		Topic:     topic,
		Version:   time.Now().UnixMilli(),
		Timestamp: time.Now(),
		Changes:   changes,
		Removed:   removed,
		TopN:      maxRank,
	}
}

func (g *Generator) change(userID string) model.Change {
	newRank := 1 + g.rng.Intn(maxRank)
	c := model.Change{
		UserID:     userID,
		Username:   "racer-" + userID[:8],
		NewRank:    newRank,
		WPM:        minWPM + g.rng.Float64()*wpmRange,
		Accuracy:   minAccuracy + g.rng.Float64()*accuracyRange,
		IsVerified: g.rng.Intn(4) == 0,
		Type:       model.ChangeNew,
	}
	if g.rng.Intn(2) == 0 {
		old := newRank + 1 + g.rng.Intn(10)
		c.OldRank = &old
		c.Type = model.ChangeImproved
	}
	return c
}
