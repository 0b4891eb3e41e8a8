package textutil

import "strings"

// DefaultEmoji is used when no emotion keyword matches.
const DefaultEmoji = "🙂"

// EmotionEmoji maps emotion labels to the emoji shown on the device.
var EmotionEmoji = map[string]string{
	"neutral":     "😶",
	"happy":       "🙂",
	"laughing":    "😆",
	"funny":       "😂",
	"sad":         "😔",
	"angry":       "😠",
	"crying":      "😭",
	"loving":      "😍",
	"embarrassed": "😳",
	"surprised":   "😲",
	"shocked":     "😱",
	"thinking":    "🤔",
	"winking":     "😉",
	"cool":        "😎",
	"relaxed":     "😌",
	"delicious":   "🤤",
	"kissy":       "😘",
	"confident":   "😏",
	"sleepy":      "😴",
	"silly":       "😜",
	"confused":    "🙄",
}

// Checked in order; the first label with a matching keyword wins.
var emotionKeywords = []struct {
	emotion  string
	keywords []string
}{
	{"laughing", []string{"哈哈", "笑死", "haha"}},
	{"funny", []string{"好笑", "搞笑", "有趣", "funny"}},
	{"crying", []string{"哭", "泪"}},
	{"sad", []string{"难过", "伤心", "遗憾", "抱歉", "可惜", "sorry", "sad"}},
	{"angry", []string{"生气", "愤怒", "讨厌", "angry"}},
	{"shocked", []string{"震惊", "吓死", "天哪"}},
	{"surprised", []string{"惊讶", "居然", "竟然", "哇", "wow"}},
	{"loving", []string{"爱你", "喜欢", "love"}},
	{"kissy", []string{"亲亲", "么么哒"}},
	{"embarrassed", []string{"不好意思", "尴尬", "害羞"}},
	{"thinking", []string{"想想", "思考", "嗯", "让我看看", "think"}},
	{"confused", []string{"不明白", "不懂", "疑惑", "为什么"}},
	{"winking", []string{"悄悄", "秘密", "你懂的"}},
	{"cool", []string{"酷", "厉害", "帅", "cool"}},
	{"relaxed", []string{"放松", "休息", "舒服", "轻松"}},
	{"delicious", []string{"好吃", "美味", "香", "delicious"}},
	{"confident", []string{"当然", "没问题", "包在我身上", "放心"}},
	{"sleepy", []string{"困", "睡觉", "晚安", "sleep"}},
	{"silly", []string{"调皮", "淘气", "嘿嘿"}},
	{"happy", []string{"开心", "高兴", "太好了", "棒", "好的", "happy"}},
}

// AnalyzeEmotion picks an emotion label for an assistant sentence.
func AnalyzeEmotion(text string) string {
	lower := strings.ToLower(text)
	for _, e := range emotionKeywords {
		for _, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				return e.emotion
			}
		}
	}
	return "happy"
}

// Emoji returns the emoji for an emotion label.
func Emoji(emotion string) string {
	if e, ok := EmotionEmoji[emotion]; ok {
		return e
	}
	return DefaultEmoji
}
