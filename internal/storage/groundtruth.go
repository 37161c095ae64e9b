package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentinel-soc/internal/schema"
)

// GroundTruthStore persists red-team attack records, analyst reviews, and
// threat-intel indicators, and answers the aggregate queries the
// reconciliation engine is built on.
type GroundTruthStore struct {
	client *ClickHouseClient
}

// NewGroundTruthStore creates a ground-truth store over the given client.
func NewGroundTruthStore(client *ClickHouseClient) *GroundTruthStore {
	return &GroundTruthStore{client: client}
}

// InsertAttack records a red-team attack simulation.
func (s *GroundTruthStore) InsertAttack(ctx context.Context, a *schema.RedTeamAttack) error {
	query := `
		INSERT INTO red_team_attacks (
			id, scenario_id, attack_type, target_agent_id, attack_timestamp,
			expected_detection, was_detected, detection_id, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.client.Exec(ctx, query,
		a.ID,
		a.ScenarioID,
		a.AttackType,
		a.TargetAgentID,
		a.AttackTimestamp,
		boolToUInt8(a.ExpectedDetection),
		boolToUInt8(a.WasDetected),
		a.DetectionID,
		a.Notes,
		a.CreatedAt,
		a.CreatedAt,
	)
	if err != nil {
		return WrapQueryError("InsertAttack", "red_team_attacks", err)
	}
	return nil
}

// MarkAttackDetected links an attack to the detection that caught it.
// The table replaces rows by id, so the rewritten row with a newer
// updated_at supersedes the original.
func (s *GroundTruthStore) MarkAttackDetected(ctx context.Context, attackID, detectionID uuid.UUID) error {
	attack, err := s.GetAttack(ctx, attackID)
	if err != nil {
		return err
	}

	attack.WasDetected = true
	attack.DetectionID = &detectionID

	query := `
		INSERT INTO red_team_attacks (
			id, scenario_id, attack_type, target_agent_id, attack_timestamp,
			expected_detection, was_detected, detection_id, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = s.client.Exec(ctx, query,
		attack.ID,
		attack.ScenarioID,
		attack.AttackType,
		attack.TargetAgentID,
		attack.AttackTimestamp,
		boolToUInt8(attack.ExpectedDetection),
		uint8(1),
		&detectionID,
		attack.Notes,
		attack.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return WrapQueryError("MarkAttackDetected", "red_team_attacks", err)
	}
	return nil
}

// GetAttack returns one attack record by id.
func (s *GroundTruthStore) GetAttack(ctx context.Context, id uuid.UUID) (*schema.RedTeamAttack, error) {
	query := `
		SELECT id, scenario_id, attack_type, target_agent_id, attack_timestamp,
		       expected_detection, was_detected, detection_id, notes, created_at
		FROM red_team_attacks FINAL
		WHERE id = ?
	`

	rows, err := s.client.Query(ctx, query, id)
	if err != nil {
		return nil, WrapQueryError("GetAttack", "red_team_attacks", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFoundError("GetAttack", "red_team_attacks", id.String())
	}

	var (
		a                  schema.RedTeamAttack
		expected, detected uint8
	)
	err = rows.Scan(&a.ID, &a.ScenarioID, &a.AttackType, &a.TargetAgentID,
		&a.AttackTimestamp, &expected, &detected, &a.DetectionID, &a.Notes, &a.CreatedAt)
	if err != nil {
		return nil, WrapQueryError("Scan", "red_team_attacks", err)
	}
	a.ExpectedDetection = expected == 1
	a.WasDetected = detected == 1
	return &a, nil
}

// InsertReview appends an analyst review. Reviews are history; they are
// never rewritten.
func (s *GroundTruthStore) InsertReview(ctx context.Context, r *schema.AnalystReview) error {
	query := `
		INSERT INTO analyst_reviews (
			id, log_entry_id, detection_result_id, verdict, confidence,
			threat_type, notes, reviewed_by, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.client.Exec(ctx, query,
		r.ID,
		r.LogEntryID,
		r.DetectionResultID,
		string(r.Verdict),
		uint8(r.Confidence),
		r.ThreatType,
		r.Notes,
		r.ReviewedBy,
		r.ReviewedAt,
	)
	if err != nil {
		return WrapQueryError("InsertReview", "analyst_reviews", err)
	}
	return nil
}

// UpsertIndicator records or refreshes a threat-intel indicator. Rows
// replace by id with the newest last_seen winning.
func (s *GroundTruthStore) UpsertIndicator(ctx context.Context, ind *schema.AttackIndicator) error {
	query := `
		INSERT INTO attack_indicators (
			id, indicator_type, indicator_value, threat_type, severity,
			source, first_seen, last_seen, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.client.Exec(ctx, query,
		ind.ID,
		string(ind.IndicatorType),
		ind.IndicatorValue,
		ind.ThreatType,
		string(ind.Severity),
		ind.Source,
		ind.FirstSeen,
		ind.LastSeen,
		boolToUInt8(ind.Active),
	)
	if err != nil {
		return WrapQueryError("UpsertIndicator", "attack_indicators", err)
	}
	return nil
}

// ActiveIndicators returns all currently active indicators.
func (s *GroundTruthStore) ActiveIndicators(ctx context.Context) ([]*schema.AttackIndicator, error) {
	query := `
		SELECT id, indicator_type, indicator_value, threat_type, severity,
		       source, first_seen, last_seen, active
		FROM attack_indicators FINAL
		WHERE active = 1
		ORDER BY last_seen DESC
	`

	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("ActiveIndicators", "attack_indicators", err)
	}
	defer rows.Close()

	var indicators []*schema.AttackIndicator
	for rows.Next() {
		var (
			ind          schema.AttackIndicator
			indType, sev string
			active       uint8
		)
		err := rows.Scan(&ind.ID, &indType, &ind.IndicatorValue, &ind.ThreatType,
			&sev, &ind.Source, &ind.FirstSeen, &ind.LastSeen, &active)
		if err != nil {
			return nil, WrapQueryError("Scan", "attack_indicators", err)
		}
		ind.IndicatorType = schema.IndicatorType(indType)
		ind.Severity = schema.Severity(sev)
		ind.Active = active == 1
		indicators = append(indicators, &ind)
	}
	return indicators, nil
}

// CountMissedAttacks counts red-team attacks in the window that were
// expected to be detected but were not.
func (s *GroundTruthStore) CountMissedAttacks(ctx context.Context, start, end time.Time) (uint64, error) {
	query := `
		SELECT count()
		FROM red_team_attacks FINAL
		WHERE attack_timestamp >= ? AND attack_timestamp < ?
		  AND expected_detection = 1 AND was_detected = 0
	`
	return s.countQuery(ctx, "CountMissedAttacks", "red_team_attacks", query, start, end)
}

// CountAnalystMisses counts distinct log entries a confident analyst
// (verdict threat, confidence at least 4) flagged where the pipeline's
// verdict is negative or absent. A missing detection row joins to
// defaults, so never-analyzed entries count as misses too.
func (s *GroundTruthStore) CountAnalystMisses(ctx context.Context, start, end time.Time) (uint64, error) {
	query := `
		SELECT uniqExact(r.log_entry_id)
		FROM analyst_reviews AS r
		LEFT JOIN detection_results FINAL AS d ON d.log_entry_id = r.log_entry_id
		WHERE r.reviewed_at >= ? AND r.reviewed_at < ?
		  AND r.verdict = 'threat' AND r.confidence >= 4
		  AND d.threat_detected = 0
	`
	return s.countQuery(ctx, "CountAnalystMisses", "analyst_reviews", query, start, end)
}

// indicatorMissQuery matches log entries against active indicator values
// by substring. ClickHouse only accepts equality conditions in JOIN ON,
// so the indicator set is crossed in and the substring predicate lives
// in WHERE.
const indicatorMissQuery = `
	SELECT uniqExact(l.id)
	FROM log_entries AS l
	CROSS JOIN attack_indicators FINAL AS i
	LEFT JOIN detection_results FINAL AS d ON d.log_entry_id = l.id
	WHERE l.timestamp >= ? AND l.timestamp < ?
	  AND i.active = 1
	  AND positionCaseInsensitive(concat(l.message, ' ', l.command_line), i.indicator_value) > 0
	  AND d.threat_detected = 0
`

// CountIndicatorMisses counts distinct log entries in the window whose
// text contains an active indicator value but whose verdict is negative
// or absent.
func (s *GroundTruthStore) CountIndicatorMisses(ctx context.Context, start, end time.Time) (uint64, error) {
	return s.countQuery(ctx, "CountIndicatorMisses", "log_entries", indicatorMissQuery, start, end)
}

// CountHeuristicMisses counts distinct elevated-level log entries whose
// text contains one of the given keywords and whose verdict is negative
// or absent, excluding entries already covered by a confident analyst
// review so the same miss is not counted twice.
func (s *GroundTruthStore) CountHeuristicMisses(ctx context.Context, start, end time.Time, keywords []string) (uint64, error) {
	if len(keywords) == 0 {
		return 0, nil
	}

	conds := make([]string, len(keywords))
	args := []any{start, end}
	for i, kw := range keywords {
		conds[i] = "positionCaseInsensitive(concat(l.message, ' ', l.command_line), ?) > 0"
		args = append(args, kw)
	}
	args = append(args, start, end)

	query := `
		SELECT uniqExact(l.id)
		FROM log_entries AS l
		LEFT JOIN detection_results FINAL AS d ON d.log_entry_id = l.id
		WHERE l.timestamp >= ? AND l.timestamp < ?
		  AND l.level IN ('error', 'critical', 'warning')
		  AND (` + strings.Join(conds, " OR ") + `)
		  AND d.threat_detected = 0
		  AND l.id NOT IN (
			SELECT log_entry_id FROM analyst_reviews
			WHERE reviewed_at >= ? AND reviewed_at < ?
			  AND verdict = 'threat' AND confidence >= 4
		  )
	`
	return s.countQuery(ctx, "CountHeuristicMisses", "log_entries", query, args...)
}

// GroundTruthStats summarizes how much ground truth exists in a window.
// The reconciliation engine derives data-quality flags from it.
type GroundTruthStats struct {
	RedTeamAttacks   uint64 `json:"red_team_attacks"`
	AnalystReviews   uint64 `json:"analyst_reviews"`
	ActiveIndicators uint64 `json:"active_indicators"`
}

// Stats returns ground-truth volume for the window.
func (s *GroundTruthStore) Stats(ctx context.Context, start, end time.Time) (GroundTruthStats, error) {
	var stats GroundTruthStats

	attacks, err := s.countQuery(ctx, "Stats", "red_team_attacks", `
		SELECT count() FROM red_team_attacks FINAL
		WHERE attack_timestamp >= ? AND attack_timestamp < ?
	`, start, end)
	if err != nil {
		return stats, err
	}
	stats.RedTeamAttacks = attacks

	reviews, err := s.countQuery(ctx, "Stats", "analyst_reviews", `
		SELECT count() FROM analyst_reviews
		WHERE reviewed_at >= ? AND reviewed_at < ?
	`, start, end)
	if err != nil {
		return stats, err
	}
	stats.AnalystReviews = reviews

	indicators, err := s.countQuery(ctx, "Stats", "attack_indicators", `
		SELECT count() FROM attack_indicators FINAL WHERE active = 1
	`)
	if err != nil {
		return stats, err
	}
	stats.ActiveIndicators = indicators

	return stats, nil
}

func (s *GroundTruthStore) countQuery(ctx context.Context, op, table, query string, args ...any) (uint64, error) {
	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return 0, WrapQueryError(op, table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, nil
	}
	var count uint64
	if err := rows.Scan(&count); err != nil {
		return 0, WrapQueryError(op, table, err)
	}
	return count, nil
}
