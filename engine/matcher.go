package engine

import (
	"time"

	"order-monitor/models"
)

// Candidates is the read-only view a Strategy matches against.
type Candidates struct {
	Links map[int]models.Link
	// Recent lists known customers, most recently seen first.
	Recent   []CustomerEntry
	Now      time.Time
	Location *time.Location

	byKey func(key string) (CustomerEntry, bool)
}

// Lookup resolves a CustomerIndex key.
func (c *Candidates) Lookup(key string) (CustomerEntry, bool) {
	if c.byKey == nil {
		for _, e := range c.Recent {
			for _, k := range e.Customer.Keys() {
				if k == key {
					return e, true
				}
			}
		}
		return CustomerEntry{}, false
	}
	return c.byKey(key)
}

// Strategy proposes a customer id for an order. Strategies are pure.
type Strategy struct {
	Name  string
	Match func(o models.Order, c *Candidates) (int, bool)
}

// Match is the outcome of a successful resolution.
type Match struct {
	Customer models.Customer `json:"customer"`
	Strategy string          `json:"strategy"`
}

// Matcher tries its strategies in order; the first that yields a customer
// present in the index wins.
type Matcher struct {
	strategies []Strategy
}

func NewMatcher(strategies ...Strategy) *Matcher {
	return &Matcher{strategies: strategies}
}

// Strategies returns the strategy names in evaluation order.
func (m *Matcher) Strategies() []string {
	names := make([]string, len(m.strategies))
	for i, s := range m.strategies {
		names[i] = s.Name
	}
	return names
}

func (m *Matcher) Resolve(o models.Order, c *Candidates) (Match, bool) {
	for _, s := range m.strategies {
		id, ok := s.Match(o, c)
		if !ok {
			continue
		}
		if e, found := c.Lookup(models.IDKey(id)); found {
			return Match{Customer: e.Customer, Strategy: s.Name}, true
		}
	}
	return Match{}, false
}

// DefaultStrategies returns link, phone, email, temporal and fuzzy matching.
func DefaultStrategies(window time.Duration, scan int, threshold float64) []Strategy {
	return []Strategy{
		LinkStrategy(),
		PhoneStrategy(),
		EmailStrategy(),
		TemporalStrategy(window, scan),
		FuzzyNameStrategy(threshold),
	}
}

func LinkStrategy() Strategy {
	return Strategy{Name: "link", Match: func(o models.Order, c *Candidates) (int, bool) {
		l, ok := c.Links[o.ID]
		if !ok || l.CustomerID <= 0 {
			return 0, false
		}
		return l.CustomerID, true
	}}
}

func PhoneStrategy() Strategy {
	return Strategy{Name: "phone", Match: func(o models.Order, c *Candidates) (int, bool) {
		if o.CustomerPhone == "" {
			return 0, false
		}
		e, ok := c.Lookup(models.PhoneKey(o.CustomerPhone))
		return e.Customer.ID, ok
	}}
}

func EmailStrategy() Strategy {
	return Strategy{Name: "email", Match: func(o models.Order, c *Candidates) (int, bool) {
		if o.CustomerEmail == "" {
			return 0, false
		}
		e, ok := c.Lookup(models.EmailKey(o.CustomerEmail))
		return e.Customer.ID, ok
	}}
}

// TemporalStrategy matches an unresolved guest order to one of the scan most
// recently seen customers whose identity arrived within window of the
// order's creation time.
func TemporalStrategy(window time.Duration, scan int) Strategy {
	return Strategy{Name: "temporal", Match: func(o models.Order, c *Candidates) (int, bool) {
		if !models.IsPlaceholderName(o.CustomerName) || o.CustomerPhone != "" || o.CustomerEmail != "" {
			return 0, false
		}
		created := models.ParseTimestamp(o.CreatedAt, c.Now, c.Location)
		for i, e := range c.Recent {
			if i >= scan {
				break
			}
			if absDuration(e.SeenAt.Sub(created)) <= window {
				return e.Customer.ID, true
			}
		}
		return 0, false
	}}
}

// FuzzyNameStrategy picks the best-scoring customer name strictly above threshold.
func FuzzyNameStrategy(threshold float64) Strategy {
	return Strategy{Name: "fuzzy", Match: func(o models.Order, c *Candidates) (int, bool) {
		if models.IsPlaceholderName(o.CustomerName) {
			return 0, false
		}
		best, bestScore := 0, threshold
		for _, e := range c.Recent {
			if score := NameSimilarity(o.CustomerName, e.Customer.Name); score > bestScore {
				best, bestScore = e.Customer.ID, score
			}
		}
		return best, best > 0
	}}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
