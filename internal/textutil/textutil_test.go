package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimPunctuation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"你好，世界。", "你好，世界"},
		{"  hello!! ", "hello"},
		{"🙂好的😆", "好的"},
		{"，。！", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimPunctuation(tt.in))
		})
	}
}

func TestStripPunctuationAndLen(t *testing.T) {
	assert.Equal(t, "嘿你好", StripPunctuation("嘿，你好！"))
	assert.Equal(t, 3, Len("嘿，你好！"))
	assert.Equal(t, 0, Len("？？ 😶"))
}

func TestIsRecognitionError(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"请重新说一遍", true},
		{"抱歉，无法理解您的输入。", true},
		{"嗯", true},
		{"好的", true},
		{"打开灯", false},
		{"what time is it", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecognitionError(tt.text))
		})
	}
}

func TestAnalyzeEmotion(t *testing.T) {
	assert.Equal(t, "laughing", AnalyzeEmotion("哈哈，这个笑话不错"))
	assert.Equal(t, "sad", AnalyzeEmotion("很遗憾听到这个消息"))
	assert.Equal(t, "happy", AnalyzeEmotion("明天会下雨"))

	assert.Equal(t, "😆", Emoji("laughing"))
	assert.Equal(t, DefaultEmoji, Emoji("bewildered"))
}
