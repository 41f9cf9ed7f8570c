// Package alerts turns adapter health into notifications.
//
// Rules are "field operator value" conditions over an AdapterHealthStatus,
// compiled once by New and evaluated on a fixed interval against every
// registered adapter. A rule fires at most once per adapter per cooldown and
// resolves as soon as its condition stops holding. Both transitions are
// posted to the configured Slack, Teams or generic HTTP webhooks.
package alerts
