// Package envelope defines the canonical wire message shape shared by every
// transport backend: [Envelope], the fixed [Action] tag set and its dotted vs
// camel-case synonyms, and the action-specific payload shapes ([BatchPayload],
// [AckPayload], [QueryRequestPayload], [QueryResponsePayload], [PingPayload]).
//
// Nothing in this package performs I/O. Encoding is plain encoding/json;
// backends decide how bytes move.
package envelope
