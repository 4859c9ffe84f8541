package speech

import (
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/speechcoach/internal/model"
)

func TestDecodeSessionPatch(t *testing.T) {
	p, err := DecodeSessionPatch([]byte(`{
		"duration": 90, "filler_count": 2, "pacing_analysis": "steady",
		"transcription": "hello", "status": "archived", "confidence_score": 0.4,
		"id": "ignored", "user": "ignored", "created_at": "ignored"
	}`))
	if err != nil {
		t.Fatalf("DecodeSessionPatch failed: %v", err)
	}
	if p.Duration == nil || *p.Duration != 90 {
		t.Error("duration not decoded")
	}
	if p.FillerCount == nil || *p.FillerCount != 2 {
		t.Error("filler_count not decoded")
	}
	if p.PacingAnalysis == nil || *p.PacingAnalysis != "steady" {
		t.Error("pacing_analysis not decoded")
	}
	if p.Transcription == nil || *p.Transcription != "hello" {
		t.Error("transcription not decoded")
	}
	if p.Status == nil || *p.Status != model.SessionStatusArchived {
		t.Error("status not decoded")
	}
	if !p.ConfidenceSet || p.ConfidenceScore == nil || *p.ConfidenceScore != 0.4 {
		t.Error("confidence_score not decoded")
	}
}

func TestDecodeSessionPatch_OmittedFieldsUntouched(t *testing.T) {
	p, err := DecodeSessionPatch([]byte(`{"filler_count": 1}`))
	if err != nil {
		t.Fatalf("DecodeSessionPatch failed: %v", err)
	}
	if p.Duration != nil || p.Status != nil || p.ConfidenceSet {
		t.Errorf("only filler_count should be set, got %+v", p)
	}
}

func TestDecodeSessionPatch_NullConfidenceClears(t *testing.T) {
	p, err := DecodeSessionPatch([]byte(`{"confidence_score": null}`))
	if err != nil {
		t.Fatalf("DecodeSessionPatch failed: %v", err)
	}
	if !p.ConfidenceSet || p.ConfidenceScore != nil {
		t.Errorf("null confidence_score should clear the value, got %+v", p)
	}
}

func TestDecodeSessionPatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"duration":`, model.ErrCodeInvalidRequest},
		{"not an object", `[1, 2]`, model.ErrCodeInvalidRequest},
		{"duration string", `{"duration": "long"}`, model.ErrCodeValidationFailed},
		{"filler float", `{"filler_count": 1.5}`, model.ErrCodeValidationFailed},
		{"confidence string", `{"confidence_score": "high"}`, model.ErrCodeValidationFailed},
		{"status number", `{"status": 3}`, model.ErrCodeValidationFailed},
		{"duration above INTEGER", `{"duration": 2147483648}`, model.ErrCodeValidationFailed},
		{"filler above INTEGER", `{"filler_count": 3000000000}`, model.ErrCodeValidationFailed},
		{"null duration", `{"duration": null}`, model.ErrCodeValidationFailed},
		{"null filler", `{"filler_count": null}`, model.ErrCodeValidationFailed},
		{"null pacing", `{"pacing_analysis": null}`, model.ErrCodeValidationFailed},
		{"null transcription", `{"transcription": null}`, model.ErrCodeValidationFailed},
		{"null status", `{"status": null}`, model.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSessionPatch([]byte(tt.body))
			assertAPIError(t, err, tt.code)
		})
	}
}

func TestDecodeSessionPatch_NullMessage(t *testing.T) {
	_, err := DecodeSessionPatch([]byte(`{"filler_count": null}`))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "may not be null") {
		t.Errorf("Message = %q, want a null-specific message", apiErr.Message)
	}
}

func TestDecodeSessionPatch_IntegerUpperBound(t *testing.T) {
	patch, err := DecodeSessionPatch([]byte(`{"duration": 2147483647}`))
	if err != nil {
		t.Fatalf("DecodeSessionPatch failed: %v", err)
	}
	if patch.Duration == nil || *patch.Duration != model.MaxIntegerField {
		t.Errorf("Duration = %v, want %d", patch.Duration, model.MaxIntegerField)
	}
}
