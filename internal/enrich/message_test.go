package enrich

import (
	"strings"
	"testing"
	"time"

	"telegram-bdintel/internal/store"
)

func TestLengthCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		words int
		want  string
	}{
		{0, store.LengthShort},
		{4, store.LengthShort},
		{5, store.LengthMedium},
		{20, store.LengthMedium},
		{24, store.LengthMedium},
		{25, store.LengthLong},
		{300, store.LengthLong},
	}
	for _, tt := range tests {
		if got := lengthCategory(tt.words); got != tt.want {
			t.Errorf("lengthCategory(%d) = %q, want %q", tt.words, got, tt.want)
		}
	}
}

func TestTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hour int
		want string
	}{
		{5, store.TimeMorning},
		{11, store.TimeMorning},
		{12, store.TimeAfternoon},
		{16, store.TimeAfternoon},
		{17, store.TimeEvening},
		{21, store.TimeEvening},
		{22, store.TimeNight},
		{3, store.TimeNight},
	}
	for _, tt := range tests {
		if got := timeOfDay(tt.hour); got != tt.want {
			t.Errorf("timeOfDay(%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestAnalyzeMessage(t *testing.T) {
	t.Parallel()

	base := store.Message{
		ChatID: 1, MessageID: 1, MessageType: "text",
		Date: time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		text string
		msg  store.Message
		// проверяемые поля
		wantQuestion bool
		wantLinks    bool
		wantBusiness bool
		wantCategory string
	}{
		{
			name: "casual greeting", text: "hi",
			msg: base, wantCategory: store.CategoryCasual,
		},
		{
			name: "business keyword", text: "need investment urgently",
			msg: base, wantBusiness: true, wantCategory: store.CategoryBusiness,
		},
		{
			name: "trailing question", text: "are we still on for thursday?",
			msg: base, wantQuestion: true, wantCategory: store.CategoryCasual,
		},
		{
			name: "leading interrogative", text: "how does the api work",
			msg: base, wantQuestion: true, wantBusiness: true, wantCategory: store.CategoryTechnical,
		},
		{
			name: "link detection", text: "see https://example.com/deck",
			msg: base, wantLinks: true, wantCategory: store.CategoryCasual,
		},
		{
			name: "social over casual", text: "happy to introduce you to my network",
			msg: base, wantBusiness: true, wantCategory: store.CategorySocial,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AnalyzeMessage(tt.msg, tt.text, LexiconSentiment{}, time.UTC)
			if !got.Enriched {
				t.Fatal("message not marked enriched")
			}
			if got.IsQuestion != tt.wantQuestion {
				t.Errorf("is_question = %v, want %v", got.IsQuestion, tt.wantQuestion)
			}
			if got.ContainsLinks != tt.wantLinks {
				t.Errorf("contains_links = %v, want %v", got.ContainsLinks, tt.wantLinks)
			}
			if got.ContainsBusinessKeywords != tt.wantBusiness {
				t.Errorf("contains_business_keywords = %v, want %v",
					got.ContainsBusinessKeywords, tt.wantBusiness)
			}
			if got.ContentCategory != tt.wantCategory {
				t.Errorf("content_category = %q, want %q", got.ContentCategory, tt.wantCategory)
			}
			if got.WordCount != len(strings.Fields(tt.text)) {
				t.Errorf("word_count = %d, want %d", got.WordCount, len(strings.Fields(tt.text)))
			}
		})
	}
}

func TestAnalyzeMessageTimezone(t *testing.T) {
	t.Parallel()
	// 23:00 UTC — ночь; в UTC+9 это 08:00 следующего дня — утро.
	tokyo := time.FixedZone("UTC+9", 9*3600)
	m := store.Message{Date: time.Date(2026, 8, 20, 23, 0, 0, 0, time.UTC), MessageType: "text"}

	utc := AnalyzeMessage(m, "hello", LexiconSentiment{}, time.UTC)
	local := AnalyzeMessage(m, "hello", LexiconSentiment{}, tokyo)

	if utc.TimeOfDay != store.TimeNight {
		t.Errorf("utc time_of_day = %q, want night", utc.TimeOfDay)
	}
	if local.TimeOfDay != store.TimeMorning {
		t.Errorf("local time_of_day = %q, want morning", local.TimeOfDay)
	}
	if local.DayOfWeek != "friday" {
		t.Errorf("local day_of_week = %q, want friday", local.DayOfWeek)
	}
}

func TestMediaFlag(t *testing.T) {
	t.Parallel()
	m := store.Message{Date: time.Unix(1000, 0), MessageType: "photo"}
	got := AnalyzeMessage(m, "", LexiconSentiment{}, time.UTC)
	if !got.ContainsMedia {
		t.Error("photo message not flagged as media")
	}
	if got.LengthCategory != store.LengthShort {
		t.Errorf("empty text length = %q, want short", got.LengthCategory)
	}
}

func TestLexiconSentiment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{"great thanks, deal!", store.SentimentPositive},
		{"unfortunately this failed", store.SentimentNegative},
		{"meeting at noon", store.SentimentNeutral},
		{"good but wrong", store.SentimentNeutral},
		{"спасибо, отлично", store.SentimentPositive},
	}
	for _, tt := range tests {
		if got := (LexiconSentiment{}).Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
