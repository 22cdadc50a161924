package listing

import (
	"regexp"
	"slices"
	"strings"

	"github.com/hitoshi/umarket/internal/model"
)

// IsOwner はuserがリスティングの出品者かどうかを返す。
func IsOwner(user *model.UserIdentity, l *model.Listing) bool {
	return user != nil && l != nil && user.ID != "" && l.SellerID == user.ID
}

// IsSoldOut はリスティングが売り切れかどうかを返す。
func IsSoldOut(l *model.Listing) bool {
	return l == nil || l.IsSoldOut()
}

// CanPurchase は購入操作を有効にできるかを返す。
// ログイン済みで、出品者本人ではなく、売り切れでない場合のみtrue。
func CanPurchase(user *model.UserIdentity, l *model.Listing) bool {
	return user != nil && !IsOwner(user, l) && !IsSoldOut(l)
}

// Controls は詳細ページに表示する操作の組み合わせ。
type Controls struct {
	// Owner は編集・削除・販売状態切り替えを表示するか。
	Owner bool
	// CanMarkSold は「Mark sold」を有効にするか。
	CanMarkSold bool
	// CanMarkAvailable は「Mark available」を有効にするか。
	CanMarkAvailable bool
	// Purchase は購入フォームを表示するか。
	Purchase bool
	// SignInPrompt はサインインの案内を表示するか。
	SignInPrompt bool
	// Notice は購入できない理由のメッセージ。
	Notice string
}

// ControlsFor はユーザーとリスティングの組み合わせから表示する操作を決める。
// 出品者本人には購入操作を表示せず、出品者以外には所有者操作を表示しない。
func ControlsFor(user *model.UserIdentity, l *model.Listing) Controls {
	if IsOwner(user, l) {
		return Controls{
			Owner:            true,
			CanMarkSold:      !l.Sold,
			CanMarkAvailable: l.Sold,
		}
	}
	if user == nil {
		c := Controls{SignInPrompt: true, Notice: "Sign in to purchase this item."}
		if IsSoldOut(l) {
			c.Notice = "This item is no longer available."
		}
		return c
	}
	if CanPurchase(user, l) {
		return Controls{Purchase: true}
	}
	return Controls{Notice: "This item is no longer available."}
}

// FilterByCategory はカテゴリで絞り込む。categoryが空の場合はそのまま返す。
func FilterByCategory(listings []model.Listing, category model.Category) []model.Listing {
	if category == "" {
		return listings
	}
	out := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		if model.NormalizeCategory(string(l.Category)) == category {
			out = append(out, l)
		}
	}
	return out
}

// SortAvailableFirst は販売中のリスティングを先に並べる。同じグループ内の順序は保つ。
func SortAvailableFirst(listings []model.Listing) []model.Listing {
	out := slices.Clone(listings)
	slices.SortStableFunc(out, func(a, b model.Listing) int {
		switch {
		case !a.Sold && b.Sold:
			return -1
		case a.Sold && !b.Sold:
			return 1
		}
		return 0
	})
	return out
}

// ActiveCount は販売中（未売却かつ在庫あり）のリスティング数を返す。
func ActiveCount(listings []model.Listing) int {
	n := 0
	for _, l := range listings {
		if !l.Sold && l.Quantity > 0 {
			n++
		}
	}
	return n
}

// Segment はハイライト表示用に分割したテキストの断片。
type Segment struct {
	Text  string
	Match bool
}

// Highlight はtextを検索語との一致部分（大文字小文字を区別しない）とそれ以外に分割する。
// 検索語が空の場合はtext全体を1つの断片として返す。
func Highlight(text, term string) []Segment {
	term = strings.TrimSpace(term)
	if term == "" || text == "" {
		return []Segment{{Text: text}}
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
	var segs []Segment
	last := 0
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			segs = append(segs, Segment{Text: text[last:loc[0]]})
		}
		segs = append(segs, Segment{Text: text[loc[0]:loc[1]], Match: true})
		last = loc[1]
	}
	if last < len(text) {
		segs = append(segs, Segment{Text: text[last:]})
	}
	return segs
}
