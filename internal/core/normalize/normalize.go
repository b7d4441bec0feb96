// Package normalize provides the deterministic company-name normalizer used
// for cache keys and temp-id hashing
// Pipeline order
// 1 Remove all whitespace
// 2 Strip business suffixes (及下属子企业, trailing (团托), -codes, -养老, -福利)
// 3 Strip status markers, longest token first (leading, trailing, bracketed)
// 4 Width fold fullwidth Latin U+FF01..U+FF5E to ASCII
// 5 Normalize ASCII brackets to Chinese form
// 6 Trim trailing punctuation and empty bracket pairs
// 7 Lowercase
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// subsidiarySuffix is removed wherever it appears
const subsidiarySuffix = "及下属子企业"

// statusMarkers are registry-status tokens that leak into company names.
// Matching is longest-first so 已转出 wins over 转出 and 已作废 over 作废
var statusMarkers = []string{
	"已转出", "待转出", "终止", "转出", "保留", "暂停", "注销", "清算",
	"解散", "吊销", "撤销", "停业", "歇业", "关闭", "迁出", "迁入",
	"变更", "合并", "分立", "破产", "重整", "托管", "接管", "整顿",
	"清盘", "退出", "终结", "结束", "完结", "已作废", "作废", "存量", "原",
}

var (
	// trailing business suffixes, stripped repeatedly until stable
	reBizSuffix = regexp.MustCompile(`(?:\(团托\)|（团托）|-养老|-福利|-[A-Za-z][A-Za-z0-9]*|-[0-9]+)$`)

	reMarkerLead  *regexp.Regexp
	reMarkerTrail *regexp.Regexp
)

func init() {
	toks := make([]string, len(statusMarkers))
	copy(toks, statusMarkers)
	sort.SliceStable(toks, func(i, j int) bool {
		return len([]rune(toks[i])) > len([]rune(toks[j]))
	})
	for i, t := range toks {
		toks[i] = regexp.QuoteMeta(t)
	}
	alt := strings.Join(toks, "|")

	// leading marker, optionally bracketed, optional trailing dash
	reMarkerLead = regexp.MustCompile(`^[（(\[【]?(?:` + alt + `)[）)\]】]?-?`)
	// trailing marker, optionally preceded by a dash or an opening bracket,
	// optionally closed by a bracket (covers markers inside trailing brackets)
	reMarkerTrail = regexp.MustCompile(`[-（(\[【]?(?:` + alt + `)[）)\]】]?$`)
}

// widthPool hands out transformer chains that fold the fullwidth Latin block
// U+FF01..U+FF5E onto ASCII; nothing outside that block is touched
var widthPool = sync.Pool{
	New: func() any {
		return runes.Map(func(r rune) rune {
			if r >= 0xFF01 && r <= 0xFF5E {
				return r - 0xFEE0
			}
			return r
		})
	},
}

// Name returns the canonical form of a raw company name.
// Idempotent; empty input yields the empty string
func Name(s string) string {
	if s == "" {
		return ""
	}

	// 1 drop every whitespace rune
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	// 2 business suffixes
	s = strings.ReplaceAll(s, subsidiarySuffix, "")
	s = stripStable(s, reBizSuffix)

	// 3 status markers, leading then trailing, until stable
	for {
		prev := s
		s = stripStable(s, reMarkerLead)
		s = stripStable(s, reMarkerTrail)
		if s == prev {
			break
		}
	}

	// 4 fullwidth to halfwidth for the fixed Latin block
	tr := widthPool.Get().(transform.Transformer)
	ns, _, _ := transform.String(tr, s)
	tr.Reset()
	widthPool.Put(tr)
	s = ns

	// 5 brackets to Chinese form
	s = strings.ReplaceAll(s, "(", "（")
	s = strings.ReplaceAll(s, ")", "）")

	// 6 trailing punctuation and empty bracket pairs; loop so that a dash
	// exposed by removing （） is trimmed too, keeping the function idempotent
	for {
		prev := s
		s = strings.TrimRight(s, "-.。")
		s = strings.TrimSuffix(s, "（）")
		if s == prev {
			break
		}
	}

	// 7 lowercase
	return strings.ToLower(s)
}

// stripStable removes re's match repeatedly until the string stops changing
func stripStable(s string, re *regexp.Regexp) string {
	for {
		next := re.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}
