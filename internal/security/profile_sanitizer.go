// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はプロフィールの自由入力項目からHTMLを除去する。
// bluemondayのStrictPolicyで全タグを落とし、平文として保存する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/accounts/internal/model"
)

// ProfileSanitizer はプロフィール更新内容のサニタイズ機能を提供する。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを共有してよい。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses はエンティティ復元とタグ除去を繰り返す上限回数。
const maxSanitizePasses = 4

// Text はタグを除去し、エンティティを平文に戻して前後の空白を取り除く。
// 復元した文字列に再びタグが現れなくなるまで除去を繰り返す。
// 上限までに収束しない場合はエスケープ済みの文字列を返す。
func (s *ProfileSanitizer) Text(raw string) string {
	cur := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			return strings.TrimSpace(cur)
		}
		cur = next
	}
	return strings.TrimSpace(s.policy.Sanitize(cur))
}

// Update は値ありの文字列項目と住所の各項目をサニタイズした更新内容を返す。
// 未指定・nullの項目はそのまま残す。
func (s *ProfileSanitizer) Update(u model.ProfileUpdate) model.ProfileUpdate {
	s.text(&u.Name)
	s.text(&u.Phone)
	s.text(&u.PreferredLanguage)

	if u.Address.Valid {
		a := &u.Address.Value
		a.Street = s.Text(a.Street)
		a.City = s.Text(a.City)
		a.State = s.Text(a.State)
		a.Zip = s.Text(a.Zip)
		a.Country = s.Text(a.Country)
	}
	return u
}

func (s *ProfileSanitizer) text(n *model.Nullable[string]) {
	if n.Valid {
		n.Value = s.Text(n.Value)
	}
}
