package enrich

import (
	"telegram-bdintel/internal/store"
)

// SentimentStrategy классифицирует тональность текста в {positive, neutral,
// negative}. Стратегия — именованная точка замены: лексиконную эвристику можно
// подменить без изменения контракта скоринга.
type SentimentStrategy interface {
	Classify(text string) string
}

// LexiconSentiment — простая лексиконная стратегия: счётчик позитивных минус
// счётчик негативных токенов, знак решает класс. Нарочно грубая и стабильная:
// скоринг завязан на её выводы, тихая смена поведения сдвинула бы все оценки.
type LexiconSentiment struct{}

var positiveWords = map[string]bool{
	"great": true, "good": true, "excellent": true, "awesome": true,
	"perfect": true, "thanks": true, "thank": true, "love": true,
	"agreed": true, "deal": true, "yes": true, "interested": true,
	"excited": true, "happy": true, "amazing": true, "wonderful": true,
	"спасибо": true, "отлично": true, "супер": true, "да": true,
	"интересно": true, "рад": true, "согласен": true, "круто": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "no": true,
	"problem": true, "issue": true, "unfortunately": true, "sorry": true,
	"wrong": true, "fail": true, "failed": true, "hate": true,
	"disappointed": true, "cancel": true, "refuse": true, "never": true,
	"нет": true, "плохо": true, "проблема": true, "увы": true,
	"жаль": true, "отказ": true, "ошибка": true, "сложно": true,
}

// Classify реализует SentimentStrategy.
func (LexiconSentiment) Classify(text string) string {
	score := 0
	for _, tok := range tokenize(text) {
		if positiveWords[tok] {
			score++
		}
		if negativeWords[tok] {
			score--
		}
	}
	switch {
	case score > 0:
		return store.SentimentPositive
	case score < 0:
		return store.SentimentNegative
	default:
		return store.SentimentNeutral
	}
}
