package mqhandler

import (
	"encoding/json"
	"fmt"
	"strings"

	contracts "buildtrack/contracts/mq"
)

// Render turns an event into a notification. ok is false for routing keys
// without a template.
func Render(routingKey string, raw json.RawMessage) (Notification, bool, error) {
	switch routingKey {
	case contracts.RoutingPhaseCreated:
		var p contracts.PhaseCreatedPayload
		if err := decode(raw, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			EventID:    p.EventID,
			RoutingKey: routingKey,
			ProjectID:  p.ProjectID,
			Recipient:  recipient(p.ClientEmail, p.ProjectID),
			Subject:    fmt.Sprintf("New phase scheduled: %s", p.PhaseName),
			Body: fmt.Sprintf("%s is scheduled from %s to %s (%d working days).",
				p.PhaseName, p.StartDate, p.EndDate, p.Duration),
		}, true, nil

	case contracts.RoutingPhaseUpdated:
		var p contracts.PhaseUpdatedPayload
		if err := decode(raw, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			EventID:    p.EventID,
			RoutingKey: routingKey,
			ProjectID:  p.ProjectID,
			Recipient:  recipient("", p.ProjectID),
			Subject:    fmt.Sprintf("Phase %s updated (%s)", p.PhaseName, p.Change),
			Body: fmt.Sprintf("%s is %.2f%% complete and runs %s to %s. Project is %.2f%% complete (%s).",
				p.PhaseName, p.Progress, p.StartDate, p.EndDate, p.ProjectProgress, p.ProjectStatus),
		}, true, nil

	case contracts.RoutingPhaseRemoved:
		var p contracts.PhaseRemovedPayload
		if err := decode(raw, &p); err != nil {
			return Notification{}, false, err
		}
		return Notification{
			EventID:    p.EventID,
			RoutingKey: routingKey,
			ProjectID:  p.ProjectID,
			Recipient:  recipient("", p.ProjectID),
			Subject:    fmt.Sprintf("Phase removed: %s", p.PhaseName),
			Body:       fmt.Sprintf("Phase %d (%s) was removed from the schedule.", p.ScheduleID, p.PhaseName),
		}, true, nil

	case contracts.RoutingChainRecomputed:
		var p contracts.ChainRecomputedPayload
		if err := decode(raw, &p); err != nil {
			return Notification{}, false, err
		}
		lines := make([]string, 0, len(p.Changed))
		for _, c := range p.Changed {
			lines = append(lines, fmt.Sprintf("%s: %s to %s", c.PhaseName, c.StartDate, c.EndDate))
		}
		body := fmt.Sprintf("%d phase(s) moved. ", len(p.Changed)) + strings.Join(lines, "; ")
		if p.ScheduledEndDate != "" {
			body += fmt.Sprintf(". Scheduled end is now %s.", p.ScheduledEndDate)
		}
		return Notification{
			EventID:    p.EventID,
			RoutingKey: routingKey,
			ProjectID:  p.ProjectID,
			Recipient:  recipient("", p.ProjectID),
			Subject:    fmt.Sprintf("Schedule recomputed (%s)", p.Trigger),
			Body:       body,
		}, true, nil

	case contracts.RoutingHolidayCreated, contracts.RoutingHolidayRemoved:
		var p contracts.HolidayPayload
		if err := decode(raw, &p); err != nil {
			return Notification{}, false, err
		}
		verb := "added"
		if routingKey == contracts.RoutingHolidayRemoved {
			verb = "removed"
		}
		n := Notification{
			EventID:    p.EventID,
			RoutingKey: routingKey,
			Recipient:  "all-projects",
			Subject:    fmt.Sprintf("Holiday %s: %s", verb, p.Date),
			Body:       fmt.Sprintf("%s (%s) was %s. Affected schedules are recomputed.", p.Date, p.Label, verb),
		}
		if p.ProjectID != nil {
			n.ProjectID = *p.ProjectID
			n.Recipient = recipient("", *p.ProjectID)
		}
		return n, true, nil
	}
	return Notification{}, false, nil
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("json_unmarshal_error: %w", err)
	}
	return nil
}

// recipient 没有客户邮箱时投递给项目订阅者
func recipient(email string, projectID int64) string {
	if email != "" {
		return email
	}
	return fmt.Sprintf("project:%d", projectID)
}
