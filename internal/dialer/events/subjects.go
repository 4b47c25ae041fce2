package events

import "fmt"

// Subject naming conventions for NATS.
//
// Hierarchy:
//   dialer.calls.<call_uuid>.<suffix>           - Per-call events
//   dialer.campaigns.<operator_id>.<suffix>     - Campaign lifecycle
//   dialer.roster.<conversation_id>             - Roster snapshots
//   dialer.presence.<conversation_id>           - Inbound presence stream
//
// Wildcard subscriptions:
//   dialer.calls.>                              - All call events
//   dialer.presence.>                           - All presence events

const (
	// SubjectPrefix is the root of all dialer subjects
	SubjectPrefix = "dialer"

	SubjectCalls      = SubjectPrefix + ".calls"
	SubjectCallStatus = "status"
	SubjectCallEnded  = "ended"

	SubjectCampaigns       = SubjectPrefix + ".campaigns"
	SubjectCampaignStarted = "started"
	SubjectCampaignStopped = "stopped"

	SubjectRoster   = SubjectPrefix + ".roster"
	SubjectPresence = SubjectPrefix + ".presence"
)

// CallSubject builds a subject for a specific call event.
// Example: CallSubject("abc-123", "ended") => "dialer.calls.abc-123.ended"
func CallSubject(callUUID string, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, callUUID, suffix)
}

// CampaignSubject builds a subject for an operator's campaign events.
func CampaignSubject(operatorID string, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCampaigns, operatorID, suffix)
}

// RosterSubject builds the subject roster snapshots are published on.
func RosterSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", SubjectRoster, conversationID)
}

// PresenceSubject builds the subject presence events for a conversation arrive on.
func PresenceSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", SubjectPresence, conversationID)
}

var (
	// PatternAllCalls matches all call events
	PatternAllCalls = SubjectCalls + ".>"

	// PatternCallEnded matches all call.ended events
	PatternCallEnded = SubjectCalls + ".*." + SubjectCallEnded

	// PatternAllPresence matches every conversation's presence stream
	PatternAllPresence = SubjectPresence + ".>"
)
