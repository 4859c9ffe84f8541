package speech

import (
	"bytes"
	"encoding/json"

	"github.com/hitoshi/speechcoach/internal/model"
)

// DecodeSessionPatch はPUT/PATCHのJSONボディを解析する。
// 書き込み可能なフィールドのみを読み取り、読み取り専用や未知のキーは無視する。
func DecodeSessionPatch(body []byte) (model.SessionPatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return model.SessionPatch{}, model.NewInvalidRequestError("Invalid JSON data")
	}
	return decodePatchFields(fields)
}

// decodePatchFields はフィールド名ごとのJSON値をSessionPatchに変換する。
// null を受け付けるのは confidence_score のみで、「未設定に戻す」として扱う。
func decodePatchFields(fields map[string]json.RawMessage) (model.SessionPatch, error) {
	var patch model.SessionPatch

	if v, ok := fields["duration"]; ok {
		n, err := decodeIntField("duration", v)
		if err != nil {
			return patch, err
		}
		patch.Duration = &n
	}
	if v, ok := fields["filler_count"]; ok {
		n, err := decodeIntField("filler_count", v)
		if err != nil {
			return patch, err
		}
		patch.FillerCount = &n
	}
	if v, ok := fields["pacing_analysis"]; ok {
		s, err := decodeStringField("pacing_analysis", v)
		if err != nil {
			return patch, err
		}
		patch.PacingAnalysis = &s
	}
	if v, ok := fields["transcription"]; ok {
		s, err := decodeStringField("transcription", v)
		if err != nil {
			return patch, err
		}
		patch.Transcription = &s
	}
	if v, ok := fields["status"]; ok {
		s, err := decodeStringField("status", v)
		if err != nil {
			return patch, err
		}
		status := model.SessionStatus(s)
		patch.Status = &status
	}
	if v, ok := fields["confidence_score"]; ok {
		patch.ConfidenceSet = true
		if !isNull(v) {
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return patch, model.NewValidationError("confidence_score", "A valid number is required.")
			}
			patch.ConfidenceScore = &f
		}
	}

	return patch, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// decodeIntField はINTEGER列に収まる整数を読み取る。
func decodeIntField(name string, v json.RawMessage) (int, error) {
	if isNull(v) {
		return 0, model.NewValidationError(name, "This field may not be null.")
	}
	var n int64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, model.NewValidationError(name, "A valid integer is required.")
	}
	if n > model.MaxIntegerField {
		return 0, model.NewValidationError(name, maxIntegerMessage)
	}
	return int(n), nil
}

func decodeStringField(name string, v json.RawMessage) (string, error) {
	if isNull(v) {
		return "", model.NewValidationError(name, "This field may not be null.")
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", model.NewValidationError(name, "Not a valid string.")
	}
	return s, nil
}
