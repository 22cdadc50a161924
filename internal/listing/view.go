package listing

import "github.com/hitoshi/umarket/internal/model"

// View は画面に表示するリスティングの状態。
// 購入直後は予測値（Unconfirmed）を表示し、再取得した値で丸ごと置き換える。
type View struct {
	Listing     model.Listing
	Unconfirmed bool
}

// NewView はバックエンドから取得した値で確定済みのViewを作る。
func NewView(l model.Listing) View {
	return View{Listing: l}
}

// PredictPurchase は購入1件分の予測を適用したViewを返す。
// 数量を1減らし（0未満にはしない）、0になった場合はsoldにする。
func (v View) PredictPurchase() View {
	next := v.Listing
	next.Quantity = max(next.Quantity-1, 0)
	if next.Quantity == 0 {
		next.Sold = true
	}
	return View{Listing: next, Unconfirmed: true}
}

// Confirm はバックエンドから再取得した値で予測を置き換える。
func (v View) Confirm(fresh model.Listing) View {
	return View{Listing: fresh}
}

// SoldOut は表示中の値が売り切れかどうかを返す。
func (v View) SoldOut() bool {
	return v.Listing.IsSoldOut()
}
