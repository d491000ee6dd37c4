package envelope

// Action is the routing tag carried by every Envelope.
type Action string

// Canonical action tags. The core recognizes these plus the synonyms listed
// in synonymToCanonical below; unknown actions on ingress are silently
// ignored.
const (
	ActionPing                   Action = "ping"
	ActionPong                   Action = "pong"
	ActionOutboxStreamBatch      Action = "outbox.stream.batch"
	ActionOutboxStreamAck        Action = "outbox.stream.ack"
	ActionQueryRequest           Action = "query.request"
	ActionQueryResponse          Action = "query.response"
	ActionRegisterStreamConsumer Action = "registerStreamConsumer"
	ActionError                  Action = "error"
)

// Style describes whether an action tag used dotted or camelCase notation on
// the wire. ACK emission mirrors the inbound batch's style (§4.1, §8 property 7).
type Style int

const (
	StyleDotted Style = iota
	StyleCamel
)

// synonymToCanonical maps an accepted camelCase synonym to its canonical
// dotted form. Only outbox.stream.* has a documented synonym (§6); other
// actions have none.
var synonymToCanonical = map[Action]Action{
	"outboxStreamBatch": ActionOutboxStreamBatch,
	"outboxStreamAck":   ActionOutboxStreamAck,
}

// canonicalToSynonym is the inverse of synonymToCanonical, used to mirror the
// inbound style on the outbound ACK.
var canonicalToSynonym = map[Action]Action{
	ActionOutboxStreamBatch: "outboxStreamBatch",
	ActionOutboxStreamAck:   "outboxStreamAck",
}

// Canonicalize maps a, as received on ingress, to its canonical form. Actions
// with no synonym are returned unchanged.
func Canonicalize(a Action) Action {
	if canon, ok := synonymToCanonical[a]; ok {
		return canon
	}
	return a
}

// StyleOf reports whether a is in dotted or camelCase notation. An action
// that is neither a known canonical dotted tag nor a known synonym is
// treated as dotted (the canonical default).
func StyleOf(a Action) Style {
	if _, ok := synonymToCanonical[a]; ok {
		return StyleCamel
	}
	return StyleDotted
}

// MirrorStyle renders the canonical action a in the given style. Actions
// without a registered synonym have no camel form, so StyleCamel is a no-op
// for them.
func MirrorStyle(a Action, style Style) Action {
	if style == StyleDotted {
		return a
	}
	if syn, ok := canonicalToSynonym[a]; ok {
		return syn
	}
	return a
}

// Recognized reports whether a (in either canonical or synonym form) is one
// of the action tags this core understands. The core MUST NOT introduce
// actions outside this set.
func Recognized(a Action) bool {
	switch Canonicalize(a) {
	case ActionPing, ActionPong, ActionOutboxStreamBatch, ActionOutboxStreamAck,
		ActionQueryRequest, ActionQueryResponse, ActionRegisterStreamConsumer, ActionError:
		return true
	default:
		return false
	}
}
