// Package classify assigns a category label to an image from its text.
package classify

import "strings"

// Category labels produced by Keywords.
const (
	Animals = "animals"
	Nature  = "nature"
	Other   = "other"
)

// Classifier maps title and attribution text to a category label. It must
// be pure: no I/O and no state between calls.
type Classifier interface {
	Classify(title, attribution string) string
}

// Func adapts a plain function to Classifier.
type Func func(title, attribution string) string

// Classify implements Classifier.
func (f Func) Classify(title, attribution string) string {
	return f(title, attribution)
}

var animalWords = []string{
	"animal", "wildlife", "bird", "toucan", "lynx", "penguin", "bear", "fox", "tiger", "lion",
	"猫", "狗", "动物", "鸟", "巨嘴鸟", "猞猁", "企鹅", "熊", "狐狸", "虎", "狮",
}

var natureWords = []string{
	"nature", "landscape", "mountain", "forest", "lake", "river", "waterfall", "desert", "ocean", "beach",
	"自然", "风景", "山", "森林", "湖", "河", "瀑布", "沙漠", "海", "海滩", "峡谷", "草原", "极光", "银河",
}

// Keywords is the default keyword classifier. Animal words win over
// nature words; anything else is Other.
type Keywords struct {
	Animals []string
	Nature  []string
}

// NewKeywords returns a classifier with the built-in English and Chinese word lists.
func NewKeywords() *Keywords {
	return &Keywords{Animals: animalWords, Nature: natureWords}
}

// Classify implements Classifier.
func (k *Keywords) Classify(title, attribution string) string {
	text := strings.ToLower(title + " " + attribution)
	if containsAny(text, k.Animals) {
		return Animals
	}
	if containsAny(text, k.Nature) {
		return Nature
	}
	return Other
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
