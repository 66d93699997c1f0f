package automation

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vanities/hytale-server-manager-sub001/internal/backup"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

// Ops is the slice of fleet operations rule actions dispatch to; rules
// drive the same code paths as a manual trigger.
type Ops interface {
	Start(id string) error
	Stop(id string) error
	Restart(id string) error
	SendCommand(id, text string) (*domain.CommandResult, error)
	Metrics(id string) (*domain.Metrics, error)
}

// Archiver is the backup surface rules use: create a run tied to the rule
// and rotate the rule's older runs afterwards.
type Archiver interface {
	Create(serverID string, opts backup.CreateOptions) (*domain.Backup, error)
	RotateForRule(ruleID string, limit int) int
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler evaluates automation rules: scheduled rules on a minute tick,
// condition rules against sampled metrics on the same tick, and event
// rules whenever a lifecycle event arrives through Sink.
type Scheduler struct {
	rules    domain.RuleRepository
	ops      Ops
	archiver Archiver

	stop chan struct{}
	done chan struct{}
}

func NewScheduler(rules domain.RuleRepository, ops Ops, archiver Archiver) *Scheduler {
	return &Scheduler{
		rules:    rules,
		ops:      ops,
		archiver: archiver,
	}
}

// Run ticks once per minute until Stop is called.
func (s *Scheduler) Run() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
}

func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick evaluates every enabled scheduled and condition rule against the
// given instant.
func (s *Scheduler) Tick(now time.Time) {
	rules, err := s.rules.ListEnabledRules()
	if err != nil {
		log.Printf("warning: could not list automation rules: %v", err)
		return
	}
	for i := range rules {
		rule := &rules[i]
		switch rule.Trigger {
		case domain.TriggerScheduled:
			due, derr := scheduleDue(rule.Schedule, now)
			if derr != nil {
				log.Printf("rule %s: bad schedule %q: %v", rule.ID, rule.Schedule, derr)
				continue
			}
			if due {
				s.runRule(rule)
			}
		case domain.TriggerCondition:
			if s.conditionMet(rule) {
				s.runRule(rule)
			}
		}
	}
}

// Sink returns a notifier that fires event-triggered rules, for wiring
// into the manager's notification fan-out.
func (s *Scheduler) Sink() notify.Notifier {
	return notify.Func(func(ev notify.Event) {
		s.HandleEvent(ev)
	})
}

// HandleEvent fires every enabled event rule matching the event's kind and
// server.
func (s *Scheduler) HandleEvent(ev notify.Event) {
	rules, err := s.rules.ListEnabledRules()
	if err != nil {
		log.Printf("warning: could not list automation rules: %v", err)
		return
	}
	for i := range rules {
		rule := &rules[i]
		if rule.Trigger != domain.TriggerEvent || rule.Event != ev.Kind {
			continue
		}
		if rule.ServerID != "" && rule.ServerID != ev.ServerID {
			continue
		}
		s.runRule(rule)
	}
}

// scheduleDue reports whether a 5-field cron expression fires at the given
// minute.
func scheduleDue(expr string, now time.Time) (bool, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return false, err
	}
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}

func (s *Scheduler) conditionMet(rule *domain.AutomationRule) bool {
	if rule.Condition == nil {
		return false
	}
	m, err := s.ops.Metrics(rule.ServerID)
	if err != nil || m == nil {
		return false
	}

	var sample float64
	switch rule.Condition.Metric {
	case "cpu":
		sample = m.CPUPercent
	case "memory_mb":
		sample = float64(m.MemoryBytes) / (1 << 20)
	case "players":
		sample = float64(m.Players)
	default:
		log.Printf("rule %s: unknown condition metric %q", rule.ID, rule.Condition.Metric)
		return false
	}

	switch rule.Condition.Op {
	case ">":
		return sample > rule.Condition.Value
	case ">=":
		return sample >= rule.Condition.Value
	case "<":
		return sample < rule.Condition.Value
	case "<=":
		return sample <= rule.Condition.Value
	default:
		log.Printf("rule %s: unknown condition operator %q", rule.ID, rule.Condition.Op)
		return false
	}
}

// RunRule executes a rule by id regardless of its trigger, for manual
// invocation from the CLI.
func (s *Scheduler) RunRule(id string) error {
	rule, err := s.rules.GetRuleByID(id)
	if err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("rule %s not found", id)
	}
	s.runRule(rule)
	return nil
}

// runRule executes the rule's actions in order. The first failing action
// stops the run; bookkeeping records either outcome.
func (s *Scheduler) runRule(rule *domain.AutomationRule) {
	log.Printf("rule %s (%s): running %d action(s)", rule.ID, rule.Name, len(rule.Actions))

	status := "ok"
	for _, action := range rule.Actions {
		if err := s.runAction(rule, action); err != nil {
			log.Printf("rule %s: action %s failed: %v", rule.ID, action.Kind, err)
			status = fmt.Sprintf("failed: %v", err)
			break
		}
	}

	if err := s.rules.RecordRuleRun(rule.ID, time.Now(), status); err != nil {
		log.Printf("warning: could not record run for rule %s: %v", rule.ID, err)
	}
}

func (s *Scheduler) runAction(rule *domain.AutomationRule, action domain.Action) error {
	switch action.Kind {
	case domain.ActionStart:
		return s.ops.Start(rule.ServerID)
	case domain.ActionStop:
		return s.ops.Stop(rule.ServerID)
	case domain.ActionRestart:
		return s.ops.Restart(rule.ServerID)
	case domain.ActionCommand:
		if strings.TrimSpace(action.Command) == "" {
			return fmt.Errorf("command action has no command text")
		}
		res, err := s.ops.SendCommand(rule.ServerID, action.Command)
		if err != nil {
			return err
		}
		if res != nil && !res.Success {
			return fmt.Errorf("command not delivered: %s", res.Message)
		}
		return nil
	case domain.ActionBackup:
		if s.archiver == nil {
			return fmt.Errorf("no backup engine configured")
		}
		if _, err := s.archiver.Create(rule.ServerID, backup.CreateOptions{RuleID: rule.ID}); err != nil {
			return err
		}
		if n := s.archiver.RotateForRule(rule.ID, rule.RetainBackups); n > 0 {
			log.Printf("rule %s: rotated %d old backup(s)", rule.ID, n)
		}
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}
