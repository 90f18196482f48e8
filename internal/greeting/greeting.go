// Package greeting renders the time-of-day welcome message used by the
// router's greet directive, grounded on
// original_source/hlas/src/hlas/utils/greeting.py's get_time_based_greeting.
package greeting

import (
	"fmt"
	"hash/fnv"
	"time"
)

// templates holds the three rotating bodies named in spec.md §4.9, each
// taking the computed salutation as its only parameter.
var templates = [3]string{
	"%s! I'm the HLAS Assistant. I can help you get a recommendation, compare insurance plans, or answer any questions you have. What can I help you with today?",
	"%s! You've reached the HLAS Assistant. Whether you need to compare plans, get a personalized recommendation, or ask about policy details, I'm here to help. What's on your mind?",
	"%s! This is the HLAS Assistant. My purpose is to provide information, comparisons, and recommendations for our insurance products. How can I assist you?",
}

// Render returns one of the three rotating greeting templates, addressed
// with a salutation computed from now in loc (Asia/Singapore in
// production). The template index is derived from sessionID and now so
// that repeated greetings within the same session vary across turns
// without requiring any session-side state, while the same session asking
// twice within the same second still gets a stable answer.
func Render(sessionID string, now time.Time, loc *time.Location) string {
	salutation := salutationFor(now, loc)

	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	seed := uint64(h.Sum32()) + uint64(now.Unix())
	idx := seed % uint64(len(templates))

	return fmt.Sprintf(templates[idx], salutation)
}

func salutationFor(now time.Time, loc *time.Location) string {
	if loc == nil {
		return "Hello"
	}
	hour := now.In(loc).Hour()
	switch {
	case hour < 12:
		return "Good morning"
	case hour < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
