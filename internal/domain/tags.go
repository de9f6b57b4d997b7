package domain

import (
	"strings"
	"time"
)

// tagAdult is attached to every post.
const tagAdult = "成虫"

// speciesTags maps a substring of the insect name to its family tag. Checked
// in order; matches are deduplicated (カブトムシ and テントウムシ both map
// to 甲虫).
var speciesTags = []struct {
	keyword string
	tag     string
}{
	{"カブトムシ", "甲虫"},
	{"クワガタ", "甲虫"},
	{"テントウムシ", "甲虫"},
	{"コガネムシ", "甲虫"},
	{"カナブン", "甲虫"},
	{"チョウ", "チョウ"},
	{"アゲハ", "チョウ"},
	{"ガ", "チョウ"},
	{"トンボ", "トンボ"},
	{"バッタ", "バッタ"},
	{"コオロギ", "バッタ"},
	{"キリギリス", "バッタ"},
	{"セミ", "セミ"},
	{"カマキリ", "カマキリ"},
	{"アリ", "ハチ"},
	{"ハチ", "ハチ"},
}

// habitatTags maps a substring of the environment text to a habitat tag.
var habitatTags = []struct {
	keyword string
	tag     string
}{
	{"森", "森林"},
	{"林", "森林"},
	{"木", "森林"},
	{"公園", "公園"},
	{"川", "水辺"},
	{"池", "水辺"},
	{"水", "水辺"},
	{"草", "草地"},
	{"原っぱ", "草地"},
	{"山", "山地"},
}

// DeriveTags computes the tag set for a post from its name and environment
// text plus the calendar season of at. The result is deterministic for a
// given (name, environment, month) and contains no duplicates. Tags are
// derived once at creation time only.
func DeriveTags(name, environment string, at time.Time) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		if _, ok := seen[tag]; ok {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, st := range speciesTags {
		if strings.Contains(name, st.keyword) {
			add(st.tag)
		}
	}
	for _, ht := range habitatTags {
		if strings.Contains(environment, ht.keyword) {
			add(ht.tag)
		}
	}
	add(seasonTag(at.Month()))
	add(tagAdult)

	return tags
}

func seasonTag(m time.Month) string {
	switch {
	case m >= time.March && m <= time.May:
		return "春"
	case m >= time.June && m <= time.August:
		return "夏"
	case m >= time.September && m <= time.November:
		return "秋"
	default:
		return "冬"
	}
}
