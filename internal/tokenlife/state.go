package tokenlife

import "time"

// Lifecycle timings.
const (
	// Threshold is the remaining lifetime under which a token is NearExpiry.
	Threshold = 10 * time.Minute

	// CheckInterval is how often the background check runs.
	CheckInterval = 5 * time.Minute

	// BootstrapWindow is how recent a remote renewal must be for Bootstrap to
	// try a silent renewal.
	BootstrapWindow = 2 * time.Hour

	// ReconsentCooldown is the minimum time between interactive prompts.
	ReconsentCooldown = 45 * time.Minute
)

// State of the local token.
type State int

const (
	NoToken State = iota
	Fresh
	NearExpiry
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case NearExpiry:
		return "near_expiry"
	case Stale:
		return "stale"
	default:
		return "no_token"
	}
}

// Token is the locally held view of the provider token. It never carries the
// credential the client authenticates with; that is kept apart so clearing
// the token still leaves a way to renew it.
type Token struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"uid,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// StateAt classifies tok at now against threshold.
func StateAt(tok *Token, now time.Time, threshold time.Duration) State {
	if tok == nil || tok.ExpiresAt.IsZero() {
		return NoToken
	}
	remaining := tok.ExpiresAt.Sub(now)
	switch {
	case remaining <= 0:
		return Stale
	case remaining < threshold:
		return NearExpiry
	default:
		return Fresh
	}
}
