package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/speechcoach/internal/model"
)

// sessionColumns は一覧・詳細で共通のSELECT列。usersとJOINしてメールアドレスを取得する。
const sessionColumns = `s.id, s.user_id, u.email, s.date, s.duration, s.filler_count,
	s.pacing_analysis, s.transcription, s.confidence_score, s.status, s.audio_file,
	s.created_at, s.updated_at`

const sessionFrom = ` FROM speech_sessions s JOIN users u ON u.id = s.user_id`

// likeEscaper はLIKEのワイルドカードをエスケープする。PostgreSQLのデフォルトのエスケープ文字は "\"。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildSessionWhere は絞り込み条件からWHERE句と引数を構築する。
// 所有者の条件は常に先頭に付与される。日付は UTC の日単位で両端を含む。
func buildSessionWhere(filter model.SessionFilter) (string, []interface{}) {
	var sb strings.Builder
	args := []interface{}{filter.UserID}
	sb.WriteString(" WHERE s.user_id = $1")

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&sb, " AND s.status = $%d", len(args))
	}
	if filter.DateFrom != nil {
		args = append(args, startOfDayUTC(*filter.DateFrom))
		fmt.Fprintf(&sb, " AND s.date >= $%d", len(args))
	}
	if filter.DateTo != nil {
		args = append(args, startOfDayUTC(*filter.DateTo).AddDate(0, 0, 1))
		fmt.Fprintf(&sb, " AND s.date < $%d", len(args))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+likeEscaper.Replace(term)+"%")
		fmt.Fprintf(&sb, " AND (s.transcription ILIKE $%d OR s.pacing_analysis ILIKE $%d)", len(args), len(args))
	}

	return sb.String(), args
}

// buildSessionOrderBy は並び順からORDER BY句を構築する。
// 同順位の並びを安定させるためidを第2キーにする。
func buildSessionOrderBy(ordering model.SessionOrdering) string {
	column := "s.date"
	switch ordering.Field {
	case model.OrderByDuration:
		column = "s.duration"
	case model.OrderByFillerCount:
		column = "s.filler_count"
	case model.OrderByConfidenceScore:
		column = "s.confidence_score"
	}

	dir := "ASC"
	if ordering.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, s.id %s", column, dir, dir)
}

// buildPatchSet はパッチのうち指定されたフィールドのみのSET句を構築する。
// argOffsetは既に使用済みのプレースホルダ数。updated_atは常に更新する。
func buildPatchSet(patch model.SessionPatch, argOffset int) (string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argOffset+len(args)))
	}

	if patch.Duration != nil {
		add("duration", *patch.Duration)
	}
	if patch.FillerCount != nil {
		add("filler_count", *patch.FillerCount)
	}
	if patch.PacingAnalysis != nil {
		add("pacing_analysis", *patch.PacingAnalysis)
	}
	if patch.Transcription != nil {
		add("transcription", *patch.Transcription)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ConfidenceSet {
		add("confidence_score", nullFloat(patch.ConfidenceScore))
	}
	sets = append(sets, "updated_at = now()")

	return strings.Join(sets, ", "), args
}

func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
