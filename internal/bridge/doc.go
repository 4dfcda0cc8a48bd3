// Package bridge is the escalation engine: it deduplicates inbound
// message events, decides working-hours routing, forwards urgent
// messages to the escalation chat, correlates human replies back to
// the originating thread, and escalates to a supervisory contact when
// a forwarded message goes unanswered past its deadline.
//
// The package is platform-agnostic: Mattermost and Telegram specifics
// live behind the collaborator interfaces in deps.go.
package bridge
