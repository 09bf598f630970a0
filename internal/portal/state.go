package portal

// State is the authenticator's position in its session lifecycle.
type State int

const (
	StateNoSession State = iota
	StateRestoring
	StateAuthenticated
	StateUnauthenticated
	StateLoggingIn
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingIn:
		return "logging_in"
	default:
		return "unknown"
	}
}
