package speech

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/speechcoach/internal/model"
)

// DateLayout は絞り込み条件の日付形式。
const DateLayout = "2006-01-02"

// DefaultPageSize は一覧の既定の1ページあたり件数。
const DefaultPageSize = 10

// FilterParams は一覧の絞り込み条件の入力値（クエリ文字列やフォームの値そのまま）。
type FilterParams struct {
	Status   string
	DateFrom string
	DateTo   string
	Search   string
}

// IsEmpty は絞り込み条件が1つも指定されていないかを返す。
func (p FilterParams) IsEmpty() bool {
	return p.Status == "" && p.DateFrom == "" && p.DateTo == "" && strings.TrimSpace(p.Search) == ""
}

// ParseFilter は入力値を検証してユーザーにスコープされた絞り込み条件に変換する。
// 空の値は条件に含めない。
func ParseFilter(userID string, p FilterParams) (model.SessionFilter, error) {
	filter := model.SessionFilter{UserID: userID, Search: strings.TrimSpace(p.Search)}

	if p.Status != "" {
		status := model.SessionStatus(p.Status)
		if !status.Valid() {
			return model.SessionFilter{}, model.NewInvalidFilterError("status=" + p.Status)
		}
		filter.Status = status
	}

	var err error
	if filter.DateFrom, err = parseDate("date_from", p.DateFrom); err != nil {
		return model.SessionFilter{}, err
	}
	if filter.DateTo, err = parseDate("date_to", p.DateTo); err != nil {
		return model.SessionFilter{}, err
	}

	return filter, nil
}

func parseDate(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, model.NewInvalidFilterError(name + "=" + raw)
	}
	return &d, nil
}

// orderFields は並び替えに指定できる列。
var orderFields = map[string]model.SessionOrderField{
	"date":             model.OrderByDate,
	"duration":         model.OrderByDuration,
	"filler_count":     model.OrderByFillerCount,
	"confidence_score": model.OrderByConfidenceScore,
}

// ParseOrdering は "-date" 形式の並び順を解析する。先頭の "-" は降順を表す。
// 空の場合は日付の降順とする。
func ParseOrdering(raw string) (model.SessionOrdering, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.DefaultSessionOrdering, nil
	}

	desc := strings.HasPrefix(raw, "-")
	field, ok := orderFields[strings.TrimPrefix(raw, "-")]
	if !ok {
		return model.SessionOrdering{}, model.NewValidationError("ordering",
			"must be one of date, duration, filler_count, confidence_score (optionally prefixed with -)")
	}
	return model.SessionOrdering{Field: field, Desc: desc}, nil
}

// ParsePage はページ番号を解析する。数値でない場合や1未満の場合は1を返す。
// 最終ページを超える値の補正はList側で行う。
func ParsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ParsePageSize はページサイズを解析する。
// 不正な値は既定値、上限を超える値は上限に丸める。
func ParsePageSize(raw string, def, maxSize int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	if n > maxSize {
		return maxSize
	}
	return n
}

// ListParams はList操作の入力。
type ListParams struct {
	Filter   model.SessionFilter
	Ordering model.SessionOrdering
	Page     int
	PageSize int
}

// Page はページ分割された一覧の結果。
type Page struct {
	Sessions []*model.SpeechSession
	Count    int // 絞り込み後の総件数
	Number   int // 1始まりのページ番号
	NumPages int // 0件の場合も1
	PageSize int
}

// HasPrevious は前のページが存在するかを返す。
func (p *Page) HasPrevious() bool { return p.Number > 1 }

// HasNext は次のページが存在するかを返す。
func (p *Page) HasNext() bool { return p.Number < p.NumPages }

// PreviousNumber は前のページ番号を返す。
func (p *Page) PreviousNumber() int { return p.Number - 1 }

// NextNumber は次のページ番号を返す。
func (p *Page) NextNumber() int { return p.Number + 1 }

// paginate は総件数から総ページ数と補正後のページ番号、オフセットを求める。
// 最終ページを超えるページ番号は最終ページに補正する。
func paginate(count, page, pageSize int) (number, numPages, offset int) {
	numPages = (count + pageSize - 1) / pageSize
	if numPages < 1 {
		numPages = 1
	}
	number = page
	if number < 1 {
		number = 1
	}
	if number > numPages {
		number = numPages
	}
	return number, numPages, (number - 1) * pageSize
}
