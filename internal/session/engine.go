// Package session holds the per-participant conversation state and the
// finite-state machine that turns free-text replies into a validated
// job parameter set.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"inspectbot/internal/domain"
)

// Step is the conversation stage currently awaiting operator input.
type Step string

const (
	StepStartDate Step = "START_DATE"
	StepEndDate   Step = "END_DATE"
	StepStatus    Step = "STATUS"
	StepFlow      Step = "FLOW"
)

// Session is one participant's in-progress parameter collection.
// Mutated only under the store's lock.
type Session struct {
	ParticipantID string
	Platform      string
	Step          Step
	Retries       int
	Params        domain.JobParameters
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// Action classifies the outcome of handling one inbound text.
type Action int

const (
	// ActionHelp: no session and not a trigger; reply is a usage hint.
	ActionHelp Action = iota
	// ActionPrompt: session created or advanced; reply is the next prompt.
	ActionPrompt
	// ActionRetry: invalid input, retry budget remains.
	ActionRetry
	// ActionAbort: retry budget exhausted, session destroyed.
	ActionAbort
	// ActionCancel: explicit cancellation, session destroyed.
	ActionCancel
	// ActionFinalize: parameters complete, session destroyed, job dispatches.
	ActionFinalize
)

// Transition is the engine's decision for one input: what happened, the
// single outbound message to send (empty only on finalize, where the
// dispatcher announces the job), and the finished parameter bundle.
type Transition struct {
	Action Action
	Reply  string
	Params domain.JobParameters
}

// Policy configures the engine per deployment.
type Policy struct {
	Triggers       []string
	CancelWords    []string
	SkipWords      []string
	AllowSkipDates bool
	MaxRetries     int
	Flows          []string
	StatusSynonyms map[string]domain.StatusFilter
}

// DefaultStatusSynonyms maps common words to status codes. Extra
// synonyms from the flows file are merged on top.
func DefaultStatusSynonyms() map[string]domain.StatusFilter {
	return map[string]domain.StatusFilter{
		"success": domain.StatusSuccess, "succeeded": domain.StatusSuccess,
		"ok": domain.StatusSuccess, "passed": domain.StatusSuccess,
		"failure": domain.StatusFailure, "failed": domain.StatusFailure,
		"fail": domain.StatusFailure, "error": domain.StatusFailure,
		"errors": domain.StatusFailure,
		"all":    domain.StatusAll, "any": domain.StatusAll,
		"both": domain.StatusAll, "everything": domain.StatusAll,
	}
}

// Engine is the pure conversation state machine. It owns no shared
// state; callers serialize access per participant through the Store.
type Engine struct {
	policy Policy
	now    func() time.Time
}

func NewEngine(p Policy) *Engine {
	if len(p.Triggers) == 0 {
		p.Triggers = []string{"inspect", "start inspection", "run"}
	}
	if len(p.CancelWords) == 0 {
		p.CancelWords = []string{"cancel", "stop"}
	}
	if len(p.SkipWords) == 0 {
		p.SkipWords = []string{"skip", "-"}
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if len(p.Flows) == 0 {
		p.Flows = []string{"all"}
	}
	merged := DefaultStatusSynonyms()
	for k, v := range p.StatusSynonyms {
		merged[strings.ToLower(k)] = v
	}
	p.StatusSynonyms = merged
	return &Engine{policy: p, now: time.Now}
}

// Handle computes the transition for one inbound text given the current
// session (nil when none exists). It returns the session state to keep
// (nil when destroyed or never created) and the transition. Exactly one
// outbound message results from every call.
func (e *Engine) Handle(s *Session, participantID, platform, input string) (*Session, Transition) {
	input = strings.TrimSpace(input)
	lower := strings.ToLower(input)

	if s != nil && matchWord(lower, e.policy.CancelWords) {
		return nil, Transition{Action: ActionCancel, Reply: "Inspection setup cancelled."}
	}

	// A trigger phrase starts a session, or restarts one mid-dialogue.
	if matchWord(lower, e.policy.Triggers) {
		now := e.now()
		fresh := &Session{
			ParticipantID: participantID,
			Platform:      platform,
			Step:          StepStartDate,
			StartedAt:     now,
			UpdatedAt:     now,
		}
		return fresh, Transition{Action: ActionPrompt, Reply: e.startDatePrompt()}
	}

	if s == nil {
		return nil, Transition{Action: ActionHelp, Reply: e.helpReply()}
	}

	s.UpdatedAt = e.now()
	switch s.Step {
	case StepStartDate:
		return e.handleDate(s, input, lower, true)
	case StepEndDate:
		return e.handleDate(s, input, lower, false)
	case StepStatus:
		return e.handleStatus(s, lower)
	case StepFlow:
		return e.handleFlow(s, input, lower)
	}
	// Unreachable unless the session was corrupted; drop it.
	return nil, Transition{Action: ActionAbort, Reply: "Something went wrong with this session, please start over."}
}

func (e *Engine) handleDate(s *Session, input, lower string, isStart bool) (*Session, Transition) {
	var date string
	if e.policy.AllowSkipDates && matchWord(lower, e.policy.SkipWords) {
		date = ""
	} else {
		parsed, ok := ParseDate(input)
		if !ok {
			return e.invalid(s, "Date not recognized. Reply in 2026-02-12, 2026/02/12 or 20260212 form")
		}
		date = parsed
	}

	s.Retries = 0
	if isStart {
		s.Params.StartDate = date
		s.Step = StepEndDate
		return s, Transition{Action: ActionPrompt, Reply: e.endDatePrompt(date)}
	}
	s.Params.EndDate = date
	s.Step = StepStatus
	return s, Transition{Action: ActionPrompt, Reply: e.statusPrompt(date)}
}

func (e *Engine) handleStatus(s *Session, lower string) (*Session, Transition) {
	status, ok := e.parseStatus(lower)
	if !ok {
		return e.invalid(s, "Status not recognized. Reply 0 (success), 1 (failure) or 2 (all)")
	}
	s.Params.Status = status
	s.Step = StepFlow
	s.Retries = 0
	return s, Transition{Action: ActionPrompt, Reply: e.flowPrompt()}
}

func (e *Engine) handleFlow(s *Session, input, lower string) (*Session, Transition) {
	flow, ok := e.parseFlow(input, lower)
	if !ok {
		return e.invalid(s, "That does not match a menu entry. Reply with a number or flow name")
	}
	s.Params.IntegrationFlow = flow
	params := s.Params
	return nil, Transition{Action: ActionFinalize, Params: params}
}

func (e *Engine) invalid(s *Session, hint string) (*Session, Transition) {
	s.Retries++
	if s.Retries >= e.policy.MaxRetries {
		return nil, Transition{
			Action: ActionAbort,
			Reply:  fmt.Sprintf("Too many invalid replies (%d). Inspection setup cancelled; send a trigger phrase to start over.", e.policy.MaxRetries),
		}
	}
	return s, Transition{Action: ActionRetry, Reply: hint + ":"}
}

func (e *Engine) parseStatus(lower string) (domain.StatusFilter, bool) {
	if n, err := strconv.Atoi(lower); err == nil {
		if n >= int(domain.StatusSuccess) && n <= int(domain.StatusAll) {
			return domain.StatusFilter(n), true
		}
		return 0, false
	}
	st, ok := e.policy.StatusSynonyms[lower]
	return st, ok
}

func (e *Engine) parseFlow(input, lower string) (string, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(e.policy.Flows) {
			return e.policy.Flows[n-1], true
		}
		return "", false
	}
	for _, f := range e.policy.Flows {
		if strings.ToLower(f) == lower {
			return f, true
		}
	}
	return "", false
}

func (e *Engine) startDatePrompt() string {
	p := "Starting an inspection. Reply with the start date (2026-02-12, 2026/02/12 or 20260212)"
	if e.policy.AllowSkipDates {
		p += ", or 'skip' for no lower bound"
	}
	return p + ":"
}

func (e *Engine) endDatePrompt(date string) string {
	recorded := "Start date recorded: " + date
	if date == "" {
		recorded = "No lower date bound."
	}
	p := recorded + "\nReply with the end date (same formats)"
	if e.policy.AllowSkipDates {
		p += ", or 'skip' for no upper bound"
	}
	return p + ":"
}

func (e *Engine) statusPrompt(date string) string {
	recorded := "End date recorded: " + date
	if date == "" {
		recorded = "No upper date bound."
	}
	return recorded + "\nReply with the status filter: 0 = success, 1 = failure, 2 = all (words like 'failed' or 'all' work too):"
}

func (e *Engine) flowPrompt() string {
	var b strings.Builder
	b.WriteString("Status filter recorded.\nReply with the integration flow, by number or name:\n")
	for i, f := range e.policy.Flows {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) helpReply() string {
	return fmt.Sprintf("Unknown command. Send %s to start an inspection.", quoteList(e.policy.Triggers))
}

func quoteList(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = strconv.Quote(w)
	}
	return strings.Join(quoted, ", ")
}

func matchWord(lower string, words []string) bool {
	for _, w := range words {
		if lower == strings.ToLower(w) {
			return true
		}
	}
	return false
}
