package textutil

import (
	"strings"
	"unicode/utf8"
)

// ErrorPhrases are fragments the recognizer or an upstream filter emits
// when it failed to understand the audio.
var ErrorPhrases = []string{
	"检测到ASR识别可能出错",
	"内容不完整且无明确意图",
	"保持静默等待用户继续输入",
	"无法理解您的输入",
	"请重新说一遍",
}

// IsRecognitionError reports whether text must be dropped instead of being
// echoed, stored in history or reported: it contains a known error phrase,
// or it is two code points or shorter once trimmed.
func IsRecognitionError(text string) bool {
	for _, phrase := range ErrorPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) <= 2
}
