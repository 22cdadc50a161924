package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ID はバックエンドが返すエンティティID。
// バックエンドは数値IDと文字列IDの両方を返しうるため、どちらも文字列として保持する。
type ID string

// UnmarshalJSON は数値・文字列どちらのJSON値もIDとして受け付ける。
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

// String はIDを文字列として返す。
func (id ID) String() string {
	return string(id)
}

// Category はリスティングのカテゴリスラッグ。
type Category string

const (
	CategoryDecor          Category = "decor"
	CategoryClothing       Category = "clothing"
	CategorySchoolSupplies Category = "school-supplies"
	CategoryTickets        Category = "tickets"
	CategoryMiscellaneous  Category = "miscellaneous"
)

// Categories はトップページに並べるカテゴリの一覧（表示順）。
var Categories = []Category{
	CategoryDecor,
	CategoryClothing,
	CategorySchoolSupplies,
	CategoryTickets,
	CategoryMiscellaneous,
}

var categoryNames = map[Category]string{
	CategoryDecor:          "Decor",
	CategoryClothing:       "Clothing",
	CategorySchoolSupplies: "School Supplies",
	CategoryTickets:        "Tickets",
	CategoryMiscellaneous:  "Miscellaneous",
}

// NormalizeCategory はカテゴリ文字列を小文字スラッグに正規化する。
// 空の場合はmiscellaneousとする。
func NormalizeCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryMiscellaneous
	}
	return Category(s)
}

// Known は定義済みカテゴリかどうかを返す。
func (c Category) Known() bool {
	_, ok := categoryNames[c]
	return ok
}

// Name はカテゴリの表示名を返す。
// 未知のスラッグはハイフンを空白に置き換えてタイトルケースにする。
func (c Category) Name() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(c), "-", " "))
}

// Listing は出品されている商品を表す。
type Listing struct {
	ID       ID       `json:"id"`
	SellerID string   `json:"seller_id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Quantity int      `json:"quantity"`
	Sold     bool     `json:"sold"`
	Category Category `json:"category"`
}

// listingWire はバックエンドのレスポンスを緩く受け取るための中間型。
// price と quantity は文字列で返る場合がある。
type listingWire struct {
	ID       ID              `json:"id"`
	SellerID string          `json:"seller_id"`
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	Quantity json.RawMessage `json:"quantity"`
	Sold     *bool           `json:"sold"`
	Category *string         `json:"category"`
}

// UnmarshalJSON はバックエンドの正規化規則に合わせてリスティングをデコードする。
// quantity が欠けている場合は1、category が欠けている場合はmiscellaneousとする。
func (l *Listing) UnmarshalJSON(data []byte) error {
	var w listingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	price, err := looseFloat(w.Price)
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	quantity, ok, err := looseInt(w.Quantity)
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}
	if !ok {
		quantity = 1
	}

	*l = Listing{
		ID:       w.ID,
		SellerID: w.SellerID,
		Name:     w.Name,
		Price:    price,
		Quantity: quantity,
		Category: CategoryMiscellaneous,
	}
	if w.Sold != nil {
		l.Sold = *w.Sold
	}
	if w.Category != nil {
		l.Category = NormalizeCategory(*w.Category)
	}
	return nil
}

// IsSoldOut は売り切れ（sold、または在庫0以下）かどうかを返す。
func (l *Listing) IsSoldOut() bool {
	return l.Sold || l.Quantity <= 0
}

// ListingInput はリスティング作成・全体更新のリクエストボディ。
type ListingInput struct {
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Quantity int      `json:"quantity"`
	Category Category `json:"category,omitempty"`
	Sold     *bool    `json:"sold,omitempty"`
}

// ListingPatch はリスティングの部分更新リクエストボディ。
// nilのフィールドは送信しない。
type ListingPatch struct {
	Name     *string  `json:"name,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Quantity *int     `json:"quantity,omitempty"`
	Sold     *bool    `json:"sold,omitempty"`
}

func looseFloat(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func looseInt(raw json.RawMessage) (int, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil, err
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false, err
	}
	return int(f), true, nil
}
