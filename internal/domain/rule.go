package domain

import "time"

type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerEvent     TriggerKind = "event"
	TriggerCondition TriggerKind = "condition"
)

type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionRestart ActionKind = "restart"
	ActionBackup  ActionKind = "backup"
	ActionCommand ActionKind = "command"
)

// Action is one step of a rule's action list, executed in order.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Command text for ActionCommand, ignored otherwise.
	Command string `json:"command,omitempty"`
}

// Condition compares a sampled metric against a threshold. Metric is one
// of "cpu", "memory_mb", "players".
type Condition struct {
	Metric string  `json:"metric"`
	Op     string  `json:"op"` // ">", ">=", "<", "<="
	Value  float64 `json:"value"`
}

// AutomationRule runs its actions against its server when its trigger
// fires: a cron schedule, a lifecycle event, or a metric condition. Rules
// invoke the same operations as manual triggers.
type AutomationRule struct {
	ID       string      `json:"id"`
	ServerID string      `json:"serverId"`
	Name     string      `json:"name"`
	Trigger  TriggerKind `json:"trigger"`

	// Schedule is a 5-field cron expression, used when Trigger is scheduled.
	Schedule string `json:"schedule,omitempty"`
	// Event is the lifecycle event kind, used when Trigger is event.
	Event EventKind `json:"event,omitempty"`
	// Condition is the threshold test, used when Trigger is condition.
	Condition *Condition `json:"condition,omitempty"`

	Actions []Action `json:"actions"`
	Enabled bool     `json:"enabled"`

	// RetainBackups bounds how many completed backups this rule keeps;
	// 0 means unlimited (never rotate).
	RetainBackups int `json:"retainBackups"`

	LastRunAt  *time.Time `json:"lastRunAt,omitempty"`
	LastStatus string     `json:"lastStatus,omitempty"`
	Runs       int        `json:"runs"`

	CreatedAt time.Time `json:"createdAt"`
}
