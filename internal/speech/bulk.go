package speech

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hitoshi/speechcoach/internal/model"
)

// bulkUpdateFields は一括更新で変更できるフィールド。
var bulkUpdateFields = map[string]bool{
	"status":           true,
	"pacing_analysis":  true,
	"filler_count":     true,
	"confidence_score": true,
}

// BulkUpdateRequest は一括更新リクエスト。
type BulkUpdateRequest struct {
	SessionIDs []string
	Patch      model.SessionPatch
}

// DecodeBulkUpdate は {"session_ids": [...], "updates": {...}} を解析する。
// 判定の順序は JSONの形式 → 必須項目 → 許可されていないキー → 値の型 とし、
// いずれかに該当した時点でリクエスト全体をエラーにする。
func DecodeBulkUpdate(body []byte) (*BulkUpdateRequest, error) {
	var raw struct {
		SessionIDs []string                   `json:"session_ids"`
		Updates    map[string]json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, model.NewInvalidRequestError("Invalid JSON data")
	}
	if len(raw.SessionIDs) == 0 || len(raw.Updates) == 0 {
		return nil, model.NewInvalidRequestError("Both session_ids and updates are required")
	}

	var invalid []string
	for key := range raw.Updates {
		if !bulkUpdateFields[key] {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, model.NewInvalidBulkFieldsError(invalid)
	}

	patch, err := decodePatchFields(raw.Updates)
	if err != nil {
		return nil, err
	}
	return &BulkUpdateRequest{SessionIDs: raw.SessionIDs, Patch: patch}, nil
}

// BulkActionRequest は画面からの一括操作リクエスト。
type BulkActionRequest struct {
	Action     model.BulkAction
	SessionIDs []string
}

// DecodeBulkAction は {"action": "...", "session_ids": [...]} を解析する。
func DecodeBulkAction(body []byte) (*BulkActionRequest, error) {
	var raw struct {
		Action     string   `json:"action"`
		SessionIDs []string `json:"session_ids"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, model.NewInvalidRequestError("Invalid JSON data")
	}
	if raw.Action == "" || len(raw.SessionIDs) == 0 {
		return nil, model.NewInvalidRequestError("Missing action or session IDs")
	}

	action := model.BulkAction(raw.Action)
	if !action.Valid() {
		return nil, model.NewInvalidBulkActionError(raw.Action)
	}
	return &BulkActionRequest{Action: action, SessionIDs: raw.SessionIDs}, nil
}

// Message は一括操作の結果メッセージを返す。
func (a BulkActionRequest) Message(count int64) string {
	switch a.Action {
	case model.BulkActionDelete:
		return fmt.Sprintf("%d session(s) deleted successfully", count)
	case model.BulkActionArchive:
		return fmt.Sprintf("%d session(s) archived successfully", count)
	default:
		return fmt.Sprintf("%d session(s) marked as analyzed", count)
	}
}
