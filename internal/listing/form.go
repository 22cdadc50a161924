package listing

import (
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/umarket/internal/model"
)

// DefaultQuantity は新規作成フォームの数量の初期値。
const DefaultQuantity = "1"

// FieldError はフォーム入力の検証エラー。
// 検証に失敗した入力はバックエンドに送信しない。
type FieldError struct {
	Field   string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *FieldError) Error() string {
	return e.Message
}

// Form はリスティングの作成・編集フォームの入力値。
// 入力はすべて文字列のまま受け取り、Validateで数値に変換する。
type Form struct {
	Name     string
	Price    string
	Quantity string
	Sold     bool
	Category string
}

// NewForm は新規作成フォームの初期値を返す。
func NewForm() Form {
	return Form{Quantity: DefaultQuantity}
}

// FormFromListing は既存リスティングから編集フォームの初期値を作る。
func FormFromListing(l *model.Listing) Form {
	return Form{
		Name:     l.Name,
		Price:    strconv.FormatFloat(l.Price, 'f', -1, 64),
		Quantity: strconv.Itoa(l.Quantity),
		Sold:     l.Sold,
		Category: string(l.Category),
	}
}

// Valid は検証済みのフォーム値。
type Valid struct {
	Name     string
	Price    float64
	Quantity int
	Category model.Category
	// Sold はallowSoldが指定された場合のみ非nil。
	Sold *bool
}

// Validate はフォーム値を検証して変換する。
// 名前は前後の空白を除いて空でないこと、価格は0より大きい有限の数値、
// 数量は0以上の整数であることを要求する。allowSoldがtrueの場合のみsoldを含める。
func (f Form) Validate(allowSold bool) (*Valid, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return nil, &FieldError{Field: "name", Message: "Name is required"}
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(f.Price), 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, &FieldError{Field: "price", Message: "Enter a price greater than 0"}
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(f.Quantity))
	if err != nil || quantity < 0 {
		return nil, &FieldError{Field: "quantity", Message: "Enter a quantity of 0 or greater"}
	}

	v := &Valid{
		Name:     name,
		Price:    price,
		Quantity: quantity,
	}

	if c := strings.TrimSpace(f.Category); c != "" {
		category := model.NormalizeCategory(c)
		if !category.Known() {
			return nil, &FieldError{Field: "category", Message: "Choose one of the listed categories"}
		}
		v.Category = category
	}

	if allowSold {
		sold := f.Sold
		v.Sold = &sold
	}
	return v, nil
}

// Input は作成リクエストのボディを返す。
func (v *Valid) Input() model.ListingInput {
	return model.ListingInput{
		Name:     v.Name,
		Price:    v.Price,
		Quantity: v.Quantity,
		Category: v.Category,
		Sold:     v.Sold,
	}
}

// Patch は編集リクエストのボディを返す。
func (v *Valid) Patch() model.ListingPatch {
	name := v.Name
	price := v.Price
	quantity := v.Quantity
	return model.ListingPatch{
		Name:     &name,
		Price:    &price,
		Quantity: &quantity,
		Sold:     v.Sold,
	}
}
