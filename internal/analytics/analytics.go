package analytics

import (
	"context"
	"sort"
	"time"

	"stakan-guard/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type Report struct {
	Since    time.Time
	Total    int
	ByLevel  map[string]int
	ByEvent  map[string]int
	TopUsers []UserCount
}

type UserCount struct {
	UserID string
	Count  int
}

const topUsers = 5

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	perUser := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
		if log.UserID != "" {
			perUser[log.UserID]++
		}
	}

	for id, count := range perUser {
		report.TopUsers = append(report.TopUsers, UserCount{UserID: id, Count: count})
	}
	sort.Slice(report.TopUsers, func(i, j int) bool {
		if report.TopUsers[i].Count != report.TopUsers[j].Count {
			return report.TopUsers[i].Count > report.TopUsers[j].Count
		}
		return report.TopUsers[i].UserID < report.TopUsers[j].UserID
	})
	if len(report.TopUsers) > topUsers {
		report.TopUsers = report.TopUsers[:topUsers]
	}
	return report, nil
}

// Events returns the event names of r sorted by count, then name.
func (r Report) Events() []string {
	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	return events
}
