package store

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/go-faster/errors"
)

func TestLeadRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	lead := Lead{
		LeadID: LeadIDFor(42), UserID: 42,
		BDScore: 64.0, IntelligenceScore: 80, ConversionLikelihood: 56.0,
		LeadQuality: LeadHot, Priority: PriorityCritical,
		EstimatedValue: 45000, InvestmentCapacity: CapacityHigh,
		DealSizeCategory: DealMidMarket, RelationshipStrength: RelationshipStrong,
		BusinessKeywords:   []string{"partnership", "revenue"},
		InvestmentKeywords: []string{"funding round"},
		PersonalizedMessage: "Hi Alice, following up on our partnership discussion.",
		FollowUpTiming:      "immediate",
	}
	if err := s.UpsertLead(ctx, nil, lead); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.UpdatedAt = time.Time{}
	if !reflect.DeepEqual(got, lead) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, lead)
	}

	// Повторный прогон обогащения перезаписывает всё, включая списки.
	lead.IntelligenceScore = 30
	lead.LeadQuality = LeadWarm
	lead.BusinessKeywords = nil
	if err = s.UpsertLead(ctx, nil, lead); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err = s.GetLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("get after rewrite: %v", err)
	}
	if got.IntelligenceScore != 30 || got.LeadQuality != LeadWarm || got.BusinessKeywords != nil {
		t.Fatalf("rewrite not applied: %+v", got)
	}
}

func TestListLeadsOrderedByScore(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, l := range []Lead{
		{LeadID: "lead_1", UserID: 1, IntelligenceScore: 40},
		{LeadID: "lead_2", UserID: 2, IntelligenceScore: 90},
		{LeadID: "lead_3", UserID: 3, IntelligenceScore: 40},
	} {
		if err := s.UpsertLead(ctx, nil, l); err != nil {
			t.Fatalf("upsert %s: %v", l.LeadID, err)
		}
	}

	got, err := s.ListLeads(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, l := range got {
		ids = append(ids, l.LeadID)
	}
	if want := []string{"lead_2", "lead_1", "lead_3"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
}

func TestFollowUpLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	f := FollowUp{
		FollowUpID: "fu_1", LeadID: "lead_42", ActionType: "priority_outreach",
		Description: "Send partnership one-pager", Priority: PriorityHigh,
		DueDate: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), Status: FollowUpPending,
		CreatedAt: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertFollowUp(ctx, nil, f); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.PendingFollowUpForLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("pending lookup: %v", err)
	}
	if got.FollowUpID != "fu_1" {
		t.Fatalf("pending = %q, want fu_1", got.FollowUpID)
	}

	f.Status = FollowUpDone
	if err = s.UpsertFollowUp(ctx, nil, f); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err = s.PendingFollowUpForLead(ctx, "lead_42"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("closed follow-up still pending: %v", err)
	}

	all, err := s.ListFollowUps(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Status != FollowUpDone {
		t.Fatalf("list = %+v, want single done entry", all)
	}
}

func TestOpportunityForLead(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	o := Opportunity{
		OpportunityID: "opp_1", LeadID: "lead_42", OpportunityType: "partnership",
		EstimatedValue: 45000, Probability: 0.8, Timeline: "1-3 months",
		Stage: StageQualification,
		NextSteps: []string{
			"Schedule discovery call",
			"Prepare tailored proposal",
			"Map decision makers",
		},
		CreatedAt: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	}
	if err := s.UpsertOpportunity(ctx, nil, o); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.OpportunityForLead(ctx, "lead_42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !reflect.DeepEqual(got, o) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, o)
	}

	if _, err = s.OpportunityForLead(ctx, "lead_99"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing lead lookup: %v", err)
	}
}
