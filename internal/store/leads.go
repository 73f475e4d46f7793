package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
)

// marshalList сериализует списковое поле в JSON для колонки.
// nil и пустой срез одинаково дают "[]", представление стабильно.
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

// UpsertLead вставляет или полностью перезаписывает лида. Лид — производная
// строка: каждый прогон обогащения строит его заново, поэтому last-writer-wins
// по всем колонкам корректен.
func (s *Store) UpsertLead(ctx context.Context, tx *sql.Tx, l Lead) error {
	var q dbtx = s.db
	if tx != nil {
		q = tx
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO leads (lead_id, user_id, bd_score, intelligence_score,
			conversion_likelihood, lead_quality, priority, estimated_value,
			investment_capacity, deal_size_category, relationship_strength,
			business_keywords, investment_keywords, technology_expertise,
			decision_maker_signals, network_influence, trust_indicators,
			financial_indicators, personalized_message, meeting_agenda,
			call_to_action, follow_up_timing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lead_id) DO UPDATE SET
			bd_score              = excluded.bd_score,
			intelligence_score    = excluded.intelligence_score,
			conversion_likelihood = excluded.conversion_likelihood,
			lead_quality          = excluded.lead_quality,
			priority              = excluded.priority,
			estimated_value       = excluded.estimated_value,
			investment_capacity   = excluded.investment_capacity,
			deal_size_category    = excluded.deal_size_category,
			relationship_strength = excluded.relationship_strength,
			business_keywords      = excluded.business_keywords,
			investment_keywords    = excluded.investment_keywords,
			technology_expertise   = excluded.technology_expertise,
			decision_maker_signals = excluded.decision_maker_signals,
			network_influence      = excluded.network_influence,
			trust_indicators       = excluded.trust_indicators,
			financial_indicators   = excluded.financial_indicators,
			personalized_message = excluded.personalized_message,
			meeting_agenda       = excluded.meeting_agenda,
			call_to_action       = excluded.call_to_action,
			follow_up_timing     = excluded.follow_up_timing,
			updated_at           = excluded.updated_at`,
		l.LeadID, l.UserID, l.BDScore, l.IntelligenceScore,
		l.ConversionLikelihood, l.LeadQuality, l.Priority, l.EstimatedValue,
		l.InvestmentCapacity, l.DealSizeCategory, l.RelationshipStrength,
		marshalList(l.BusinessKeywords), marshalList(l.InvestmentKeywords),
		marshalList(l.TechnologyExpertise), marshalList(l.DecisionMakerSignals),
		marshalList(l.NetworkInfluence), marshalList(l.TrustIndicators),
		marshalList(l.FinancialIndicators), l.PersonalizedMessage, l.MeetingAgenda,
		l.CallToAction, l.FollowUpTiming, zeroOrUnix(time.Now()))
	return errors.Wrap(err, "upsert lead")
}

const leadColumns = `lead_id, user_id, bd_score, intelligence_score,
	conversion_likelihood, lead_quality, priority, estimated_value,
	investment_capacity, deal_size_category, relationship_strength,
	business_keywords, investment_keywords, technology_expertise,
	decision_maker_signals, network_influence, trust_indicators,
	financial_indicators, personalized_message, meeting_agenda,
	call_to_action, follow_up_timing, updated_at`

func scanLead(r rowScanner) (Lead, error) {
	var l Lead
	var bk, ik, te, dm, ni, ti, fi string
	var updated int64
	err := r.Scan(&l.LeadID, &l.UserID, &l.BDScore, &l.IntelligenceScore,
		&l.ConversionLikelihood, &l.LeadQuality, &l.Priority, &l.EstimatedValue,
		&l.InvestmentCapacity, &l.DealSizeCategory, &l.RelationshipStrength,
		&bk, &ik, &te, &dm, &ni, &ti, &fi,
		&l.PersonalizedMessage, &l.MeetingAgenda,
		&l.CallToAction, &l.FollowUpTiming, &updated)
	if err != nil {
		return Lead{}, err
	}
	l.BusinessKeywords = unmarshalList(bk)
	l.InvestmentKeywords = unmarshalList(ik)
	l.TechnologyExpertise = unmarshalList(te)
	l.DecisionMakerSignals = unmarshalList(dm)
	l.NetworkInfluence = unmarshalList(ni)
	l.TrustIndicators = unmarshalList(ti)
	l.FinancialIndicators = unmarshalList(fi)
	l.UpdatedAt = unixOrZero(updated)
	return l, nil
}

// GetLead возвращает лида по идентификатору или sql.ErrNoRows.
func (s *Store) GetLead(ctx context.Context, leadID string) (Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE lead_id = ?`, leadID)
	return scanLead(row)
}

// ListLeads возвращает всех лидов по убыванию intelligence_score.
func (s *Store) ListLeads(ctx context.Context) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads ORDER BY intelligence_score DESC, lead_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list leads")
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, scanErr := scanLead(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertFollowUp вставляет или обновляет follow-up по идентификатору.
func (s *Store) UpsertFollowUp(ctx context.Context, tx *sql.Tx, f FollowUp) error {
	var q dbtx = s.db
	if tx != nil {
		q = tx
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO follow_ups (follow_up_id, lead_id, action_type, description,
			priority, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(follow_up_id) DO UPDATE SET
			action_type = excluded.action_type,
			description = excluded.description,
			priority    = excluded.priority,
			due_date    = excluded.due_date,
			status      = excluded.status`,
		f.FollowUpID, f.LeadID, f.ActionType, f.Description,
		f.Priority, zeroOrUnix(f.DueDate), f.Status, zeroOrUnix(f.CreatedAt))
	return errors.Wrap(err, "upsert follow-up")
}

// PendingFollowUpForLead ищет незакрытый follow-up лида, чтобы не плодить
// дубликаты при повторных прогонах обогащения.
func (s *Store) PendingFollowUpForLead(ctx context.Context, leadID string) (FollowUp, error) {
	var f FollowUp
	var due, created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT follow_up_id, lead_id, action_type, description, priority,
			due_date, status, created_at
		FROM follow_ups WHERE lead_id = ? AND status = 'pending'
		ORDER BY created_at LIMIT 1`, leadID).
		Scan(&f.FollowUpID, &f.LeadID, &f.ActionType, &f.Description, &f.Priority,
			&due, &f.Status, &created)
	if err != nil {
		return FollowUp{}, err
	}
	f.DueDate = unixOrZero(due)
	f.CreatedAt = unixOrZero(created)
	return f, nil
}

// ListFollowUps возвращает follow-up по статусу; пустой статус — все.
func (s *Store) ListFollowUps(ctx context.Context, status string) ([]FollowUp, error) {
	query := `SELECT follow_up_id, lead_id, action_type, description, priority,
		due_date, status, created_at FROM follow_ups`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY due_date, follow_up_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list follow-ups")
	}
	defer rows.Close()

	var out []FollowUp
	for rows.Next() {
		var f FollowUp
		var due, created int64
		if err = rows.Scan(&f.FollowUpID, &f.LeadID, &f.ActionType, &f.Description,
			&f.Priority, &due, &f.Status, &created); err != nil {
			return nil, err
		}
		f.DueDate = unixOrZero(due)
		f.CreatedAt = unixOrZero(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertOpportunity вставляет или обновляет возможность.
func (s *Store) UpsertOpportunity(ctx context.Context, tx *sql.Tx, o Opportunity) error {
	var q dbtx = s.db
	if tx != nil {
		q = tx
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO opportunities (opportunity_id, lead_id, opportunity_type,
			estimated_value, probability, timeline, stage, next_steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(opportunity_id) DO UPDATE SET
			opportunity_type = excluded.opportunity_type,
			estimated_value  = excluded.estimated_value,
			probability      = excluded.probability,
			timeline         = excluded.timeline,
			stage            = excluded.stage,
			next_steps       = excluded.next_steps`,
		o.OpportunityID, o.LeadID, o.OpportunityType,
		o.EstimatedValue, o.Probability, o.Timeline, o.Stage,
		marshalList(o.NextSteps), zeroOrUnix(o.CreatedAt))
	return errors.Wrap(err, "upsert opportunity")
}

// OpportunityForLead ищет существующую возможность лида: повторный прогон
// обновляет её, а не создаёт дубликат.
func (s *Store) OpportunityForLead(ctx context.Context, leadID string) (Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT opportunity_id, lead_id, opportunity_type, estimated_value,
			probability, timeline, stage, next_steps, created_at
		FROM opportunities WHERE lead_id = ? LIMIT 1`, leadID)
	return scanOpportunity(row)
}

func scanOpportunity(r rowScanner) (Opportunity, error) {
	var o Opportunity
	var steps string
	var created int64
	if err := r.Scan(&o.OpportunityID, &o.LeadID, &o.OpportunityType, &o.EstimatedValue,
		&o.Probability, &o.Timeline, &o.Stage, &steps, &created); err != nil {
		return Opportunity{}, err
	}
	o.NextSteps = unmarshalList(steps)
	o.CreatedAt = unixOrZero(created)
	return o, nil
}
