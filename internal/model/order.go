package model

import (
	"strings"
	"time"
)

// PaymentMethod は購入時に選択する支払い方法。
// 決済処理は行わず、出品者への連絡用に記録するのみ。
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentVenmo  PaymentMethod = "venmo"
	PaymentPayPal PaymentMethod = "paypal"
)

// PaymentMethods は選択肢の表示順。
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentVenmo, PaymentPayPal}

// ParsePaymentMethod は入力を支払い方法に変換する。
// 未知の値や空文字はcashとする。
func ParsePaymentMethod(s string) PaymentMethod {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentVenmo:
		return PaymentVenmo
	case PaymentPayPal:
		return PaymentPayPal
	default:
		return PaymentCash
	}
}

// Label は支払い方法の表示名を返す。
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentVenmo:
		return "Venmo"
	case PaymentPayPal:
		return "PayPal"
	default:
		return "Cash"
	}
}

// OrderRole は注文一覧の取得視点。
type OrderRole string

const (
	RoleBuyer  OrderRole = "buyer"
	RoleSeller OrderRole = "seller"
)

// Order は購入記録を表す。
type Order struct {
	ID            ID            `json:"id"`
	ListingID     ID            `json:"listing_id"`
	BuyerID       string        `json:"buyer_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CreatedAt     time.Time     `json:"created_at"`
	Product       *Listing      `json:"product,omitempty"`
}

// OrderInput は注文作成のリクエストボディ。
type OrderInput struct {
	ListingID     string        `json:"listing_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}
