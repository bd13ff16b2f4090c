package subscription

// DefaultMaxErrors is the pause threshold when a subscription has none.
const DefaultMaxErrors = 3

// Policy applies failure backoff to a subscription.
type Policy struct {
	DefaultMaxErrors int
}

// Threshold is the error streak at which s is paused.
func (p Policy) Threshold(s *Subscription) int {
	if s.MaxErrors > 0 {
		return s.MaxErrors
	}
	if p.DefaultMaxErrors > 0 {
		return p.DefaultMaxErrors
	}
	return DefaultMaxErrors
}

// OnSuccess clears the failure streak.
func (p Policy) OnSuccess(s *Subscription) {
	s.ConsecutiveErrors = 0
	s.LastError = ""
}

// OnFailure records a failure and pauses s once the streak reaches the
// threshold. It reports whether this call paused s.
func (p Policy) OnFailure(s *Subscription, errText string) bool {
	s.ConsecutiveErrors++
	s.LastError = errText
	if !s.AutoPaused && s.ConsecutiveErrors >= p.Threshold(s) {
		s.AutoPaused = true
		return true
	}
	return false
}

// Reactivate re-enables s and clears any pause and failure streak.
func (p Policy) Reactivate(s *Subscription) {
	s.Enabled = true
	s.AutoPaused = false
	s.ConsecutiveErrors = 0
	s.LastError = ""
}
