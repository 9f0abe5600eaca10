package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/dresscheck/internal/repository"
)

func TestHistoryQueriesWholeLocalDay(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*60*60)
	repo := &stubRepository{}
	uc := NewCheckUseCase(repo, &stubCache{}, &stubRunner{}, zap.NewNop(), Options{Location: bangkok})

	day, err := uc.ParseDay("2026-03-14")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := uc.History(context.Background(), "inspector-1", day); err != nil {
		t.Fatalf("history failed: %v", err)
	}

	wantFrom := time.Date(2026, 3, 14, 0, 0, 0, 0, bangkok)
	if !repo.listFrom.Equal(wantFrom) || !repo.listTo.Equal(wantFrom.Add(24*time.Hour)) {
		t.Fatalf("unexpected bounds [%v, %v)", repo.listFrom, repo.listTo)
	}
}

func TestParseDayDefaultsToToday(t *testing.T) {
	uc := NewCheckUseCase(&stubRepository{}, &stubCache{}, &stubRunner{}, zap.NewNop(), Options{Location: time.UTC})
	uc.now = func() time.Time { return time.Date(2026, 10, 19, 15, 4, 5, 0, time.UTC) }

	day, err := uc.ParseDay("")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !day.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day %v", day)
	}
	if _, err := uc.ParseDay("19/10/2026"); err == nil {
		t.Fatal("expected malformed day to fail")
	}
}

func TestGetDailySummary(t *testing.T) {
	repo := &stubRepository{listed: []*repository.CheckRecord{
		{StudentID: "1", Gender: "ชาย", Failed: []string{"ไม่มีเนคไทชาย", "ไม่มีเข็มขัดชาย"}},
		{StudentID: "2", Gender: "หญิง", Failed: []string{"ไม่มีเข็มขัดหญิง"}},
		{StudentID: "1", Gender: "ชาย", Failed: []string{"ไม่มีเนคไทชาย"}},
	}}
	uc := NewCheckUseCase(repo, &stubCache{}, &stubRunner{}, zap.NewNop(), Options{Location: time.UTC})

	summary, err := uc.GetDailySummary(context.Background(), "inspector-1", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.Date != "2026-03-14" || summary.TotalRecords != 3 || summary.UniqueStudents != 2 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if summary.ByGender["ชาย"] != 2 || summary.ByGender["หญิง"] != 1 {
		t.Fatalf("unexpected gender totals: %v", summary.ByGender)
	}
	if len(summary.Failures) != 3 || summary.Failures[0].Message != "ไม่มีเนคไทชาย" || summary.Failures[0].Count != 2 {
		t.Fatalf("unexpected failure totals: %+v", summary.Failures)
	}
}

func TestGetDailySummaryEmptyDay(t *testing.T) {
	uc := NewCheckUseCase(&stubRepository{}, &stubCache{}, &stubRunner{}, zap.NewNop(), Options{})

	summary, err := uc.GetDailySummary(context.Background(), "inspector-1", time.Now())
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalRecords != 0 || summary.Failures == nil || len(summary.Failures) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
