// Package session defines the per-conversation state document described in
// the specification's data model (§3), ported from
// original_source/hlas/src/hlas/session.py's Mongo document shape into a
// typed Go struct per the rewrite's design note: dynamic-typing patterns
// become explicit tagged variants.
package session

import (
	"time"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/catalog"
)

// Status is a closed tri-state used by the recommendation/comparison/summary
// sub-flow status fields.
type Status string

const (
	StatusNone       Status = ""
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Slot is the tagged-variant replacement for the original's
// "sometimes a string, sometimes a dict" slot value.
type Slot struct {
	Value string `json:"value"`
	Valid bool   `json:"valid"`
}

// WorkingSlot is the ephemeral per-flow record used by Comparison and
// Summary while they are mid-turn.
type WorkingSlot struct {
	Product catalog.Product `json:"product,omitempty"`
	Tiers   []string        `json:"tiers,omitempty"`
}

// HistoryEntry is one stored (user, assistant) turn.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
}

// CompletionRecord audits one completed comparison or summary.
type CompletionRecord struct {
	Product  catalog.Product `json:"product"`
	Tiers    []string        `json:"tiers"`
	Completed bool           `json:"completed"`
}

// LastCompleted names which sub-flow most recently finished a turn.
type LastCompleted string

const (
	CompletedNone          LastCompleted = ""
	CompletedRecommendation LastCompleted = "recommendation"
	CompletedComparison     LastCompleted = "comparison"
	CompletedSummary        LastCompleted = "summary"
)

// Session is the full per-session document described in spec.md §3.
type Session struct {
	SessionID string `json:"session_id"`

	Product          catalog.Product `json:"product,omitempty"`
	Slots            map[string]Slot `json:"slots,omitempty"`
	RecommendedTier  string          `json:"recommended_tier,omitempty"`
	UserWantsDetails bool            `json:"user_wants_details"`

	RecommendationStatus Status `json:"recommendation_status,omitempty"`
	ComparisonStatus     Status `json:"comparison_status,omitempty"`
	SummaryStatus        Status `json:"summary_status,omitempty"`

	ComparisonSlot *WorkingSlot `json:"comparison_slot,omitempty"`
	SummarySlot    *WorkingSlot `json:"summary_slot,omitempty"`

	ComparisonHistory []CompletionRecord `json:"comparison_history,omitempty"`
	SummaryHistory    []CompletionRecord `json:"summary_history,omitempty"`

	LastQuestion string `json:"last_question,omitempty"`

	LastInfoProdQuestion bool   `json:"_last_info_prod_q,omitempty"`
	LastInfoUserMsg      string `json:"_last_info_user_msg,omitempty"`
	FollowUpQuery        string `json:"_fu_query,omitempty"`

	LastCompleted LastCompleted `json:"last_completed,omitempty"`

	History []HistoryEntry `json:"history,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// New returns a freshly initialized session document for a session id that
// has never been seen before (mirrors session.py::get_session's
// new-session branch).
func New(sessionID string, now time.Time) Session {
	return Session{
		SessionID:        sessionID,
		Slots:            map[string]Slot{},
		UserWantsDetails: true,
		CreatedAt:        now,
		LastActive:       now,
	}
}

// AnyInProgress reports whether one of the three mutually exclusive
// sub-flow statuses is mid-turn (spec.md §3 invariant).
func (s Session) AnyInProgress() bool {
	return s.RecommendationStatus == StatusInProgress ||
		s.ComparisonStatus == StatusInProgress ||
		s.SummaryStatus == StatusInProgress
}

// PruneForeignSlots drops any stored slot whose name is not in the
// current product's required-slot set (spec.md §3 invariant).
func (s *Session) PruneForeignSlots() {
	if s.Slots == nil {
		return
	}
	allowed := map[string]bool{}
	for _, name := range catalog.RequiredSlots(s.Product) {
		allowed[name] = true
	}
	for name := range s.Slots {
		if !allowed[name] {
			delete(s.Slots, name)
		}
	}
}

// ClearSlotsOnProductSwitch clears collected slots and working-slot tiers,
// used by every sub-flow when it detects the user switched products
// (spec.md §8 invariant: "slots is empty and working slots contain no
// tiers" after a detected switch).
func (s *Session) ClearSlotsOnProductSwitch() {
	s.Slots = map[string]Slot{}
	if s.ComparisonSlot != nil {
		s.ComparisonSlot.Tiers = nil
	}
	if s.SummarySlot != nil {
		s.SummarySlot.Tiers = nil
	}
}

// AppendHistory appends one turn to the bounded (cap 5) history list,
// truncating the assistant text to maxAssistantChars for storage (the full
// reply is still sent to the user — only the stored copy is truncated).
func (s *Session) AppendHistory(user, assistant string, maxAssistantChars int, now time.Time) {
	truncated := assistant
	if len(truncated) > maxAssistantChars {
		truncated = truncated[:maxAssistantChars]
	}
	s.History = append(s.History, HistoryEntry{Timestamp: now, User: user, Assistant: truncated})
	if len(s.History) > 5 {
		s.History = s.History[len(s.History)-5:]
	}
	s.LastActive = now
}

// ResetTransient clears every transient field while preserving History and
// CreatedAt, mirroring session.py::reset_session's $unset field list.
func (s *Session) ResetTransient(now time.Time) {
	history := s.History
	createdAt := s.CreatedAt
	sessionID := s.SessionID
	*s = Session{
		SessionID:        sessionID,
		Slots:            map[string]Slot{},
		UserWantsDetails: true,
		History:          history,
		CreatedAt:        createdAt,
		LastActive:       now,
	}
}

// AppendComparisonCompletion records a completed comparison, capping the
// audit trail at 10 entries (ported from compare_flow.py's cap).
func (s *Session) AppendComparisonCompletion(rec CompletionRecord) {
	s.ComparisonHistory = append(s.ComparisonHistory, rec)
	if len(s.ComparisonHistory) > 10 {
		s.ComparisonHistory = s.ComparisonHistory[len(s.ComparisonHistory)-10:]
	}
}

// AppendSummaryCompletion records a completed summary, capping at 10.
func (s *Session) AppendSummaryCompletion(rec CompletionRecord) {
	s.SummaryHistory = append(s.SummaryHistory, rec)
	if len(s.SummaryHistory) > 10 {
		s.SummaryHistory = s.SummaryHistory[len(s.SummaryHistory)-10:]
	}
}

// IsIdle reports whether the session has been inactive longer than the
// configured idle-reset threshold (spec.md §8 boundary behavior).
func (s Session) IsIdle(now time.Time, threshold time.Duration) bool {
	if s.LastActive.IsZero() {
		return false
	}
	return now.Sub(s.LastActive) > threshold
}

// SlotValue returns the stored value for name, or "" if absent.
func (s Session) SlotValue(name string) string {
	if s.Slots == nil {
		return ""
	}
	return s.Slots[name].Value
}

// SlotValid reports whether the stored slot is present and validated.
func (s Session) SlotValid(name string) bool {
	if s.Slots == nil {
		return false
	}
	slot, ok := s.Slots[name]
	return ok && slot.Valid
}

// MissingSlots returns the subset of required that are absent or invalid,
// preserving required's order.
func MissingSlots(slots map[string]Slot, required []string) []string {
	var missing []string
	for _, name := range required {
		slot, ok := slots[name]
		if !ok || slot.Value == "" || !slot.Valid {
			missing = append(missing, name)
		}
	}
	return missing
}
