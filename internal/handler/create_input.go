package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/speech"
)

// multipartMemory はmultipartフォームをメモリに保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 8 << 20

// audioFormField は音声ファイルのフォームフィールド名。
const audioFormField = "audio_file"

// decodeCreateInput はセッション作成リクエストを解析する。
// multipart/form-data と application/x-www-form-urlencoded はフォームとして、それ以外はJSONとして扱う。
// 戻り値のcleanupはハンドラーの処理が終わった後に必ず呼び出す。
func decodeCreateInput(r *http.Request) (speech.CreateInput, func(), error) {
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return decodeCreateForm(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return speech.CreateInput{}, noop, formParseError(err)
		}
		in, err := createInputFromValues(r.PostFormValue("duration"), r.PostFormValue("transcription"))
		return in, noop, err
	}

	var body struct {
		Duration      *int   `json:"duration"`
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return speech.CreateInput{}, noop, model.NewValidationError(typeErr.Field, "Invalid value type.")
		}
		return speech.CreateInput{}, noop, model.NewInvalidRequestError("Invalid JSON data")
	}
	return speech.CreateInput{Duration: body.Duration, Transcription: body.Transcription}, noop, nil
}

func decodeCreateForm(r *http.Request) (speech.CreateInput, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return speech.CreateInput{}, noop, formParseError(err)
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	in, err := createInputFromValues(r.FormValue("duration"), r.FormValue("transcription"))
	if err != nil {
		return speech.CreateInput{}, cleanup, err
	}

	file, header, err := r.FormFile(audioFormField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return in, cleanup, nil
	case err != nil:
		return speech.CreateInput{}, cleanup, model.NewInvalidAudioFileError("ファイルを読み取れません")
	}

	in.Audio = &speech.AudioUpload{Filename: header.Filename, Body: file}
	return in, func() {
		file.Close()
		cleanup()
	}, nil
}

// createInputFromValues はフォームの文字列値から作成入力を組み立てる。
// durationが空の場合は未指定として扱い、必須チェックはサービス層で行う。
func createInputFromValues(rawDuration, transcription string) (speech.CreateInput, error) {
	in := speech.CreateInput{Transcription: transcription}
	if raw := strings.TrimSpace(rawDuration); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return speech.CreateInput{}, model.NewValidationError("duration", "Enter a whole number.")
		}
		in.Duration = &d
	}
	return in, nil
}

// formParseError はフォーム解析のエラーを分類する。ボディサイズの上限超過は音声ファイルのエラーとする。
func formParseError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewInvalidAudioFileError("ファイルサイズが上限を超えています")
	}
	return model.NewInvalidRequestError("フォームの解析に失敗しました。")
}
