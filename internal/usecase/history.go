package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/example/dresscheck/internal/repository"
)

// DayLayout is the format of the day parameter of the history queries.
const DayLayout = "2006-01-02"

// FailureCount is the number of records carrying one failure message.
type FailureCount struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// DailySummary aggregates an inspector's records of one day.
type DailySummary struct {
	Date           string           `json:"date"`
	TotalRecords   int64            `json:"total_records"`
	UniqueStudents int64            `json:"unique_students"`
	ByGender       map[string]int64 `json:"by_gender"`
	Failures       []FailureCount   `json:"failures"`
}

// ParseDay interprets day in the use case location. An empty day means today.
func (uc *CheckUseCase) ParseDay(day string) (time.Time, error) {
	if day == "" {
		now := uc.now().In(uc.location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, uc.location), nil
	}
	return time.ParseInLocation(DayLayout, day, uc.location)
}

// History lists the inspector's saved records of the calendar day containing
// day, newest first.
func (uc *CheckUseCase) History(ctx context.Context, inspectorID string, day time.Time) ([]*repository.CheckRecord, error) {
	start, end := dayBounds(day.In(uc.location))
	return uc.repo.ListBetween(ctx, inspectorID, start, end)
}

// GetDailySummary totals the inspector's records of one day by gender and failure.
func (uc *CheckUseCase) GetDailySummary(ctx context.Context, inspectorID string, day time.Time) (*DailySummary, error) {
	records, err := uc.History(ctx, inspectorID, day)
	if err != nil {
		return nil, err
	}

	summary := &DailySummary{
		Date:         day.In(uc.location).Format(DayLayout),
		TotalRecords: int64(len(records)),
		ByGender:     make(map[string]int64),
		Failures:     []FailureCount{},
	}
	failures := make(map[string]int64)
	students := make(map[string]struct{})
	for _, record := range records {
		summary.ByGender[record.Gender]++
		students[record.StudentID] = struct{}{}
		for _, msg := range record.Failed {
			failures[msg]++
		}
	}
	summary.UniqueStudents = int64(len(students))

	for msg, count := range failures {
		summary.Failures = append(summary.Failures, FailureCount{Message: msg, Count: count})
	}
	sort.Slice(summary.Failures, func(i, j int) bool {
		if summary.Failures[i].Count != summary.Failures[j].Count {
			return summary.Failures[i].Count > summary.Failures[j].Count
		}
		return summary.Failures[i].Message < summary.Failures[j].Message
	})
	return summary, nil
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
