package ircd

import "errors"

// Sentinel errors for the channel engine and router — a closed taxonomy
// checked with errors.Is, not exceptions.
var (
	ErrInviteOnly    = errors.New("ircd: channel is invite-only")
	ErrBanned        = errors.New("ircd: banned from channel")
	ErrBadKey        = errors.New("ircd: channel key mismatch")
	ErrChannelFull   = errors.New("ircd: channel is full")
	ErrPolicyDenied  = errors.New("ircd: join denied by policy")
	ErrNotOp         = errors.New("ircd: channel operator privileges required")
	ErrNoSuchChannel = errors.New("ircd: no such channel")
	ErrNoSuchNick    = errors.New("ircd: no such nick")
	ErrCannotSend    = errors.New("ircd: cannot send to channel")
	ErrSASLExpired   = errors.New("ircd: SASL challenge expired or already consumed")
	ErrSASLInvalid   = errors.New("ircd: SASL signature verification failed")
)
