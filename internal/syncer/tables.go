// Пакет syncer проецирует строки хранилища во внешнее табличное назначение:
// Google Sheets, каталог CSV или «никуда». Полная синхронизация перезаписывает
// листы целиком, инкрементальная разбирает очередь задач хранилища. Текст
// сообщений через эту поверхность не проходит никогда.
package syncer

import (
	"encoding/json"
	"strconv"
	"time"

	"telegram-bdintel/internal/store"
)

// marshalJSONList сериализует списковую колонку в JSON-текст; пустой список
// печатается как "[]".
func marshalJSONList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Имена проецируемых таблиц. Набор фиксирован и является внешним контрактом.
const (
	TableContacts      = "contacts"
	TableOrganizations = "organizations"
	TableInteractions  = "interactions"
	TableLeads         = "leads"
	TableMessages      = "messages"
	TableChatGroups    = "chat_groups"
	TableDashboard     = "dashboard"
)

// timestampLayout — формат всех временных колонок проекции.
const timestampLayout = "2006-01-02 15:04:05"

// Порядок колонок каждой таблицы стабилен: потребители адресуются по позиции.
var (
	contactHeader = []string{
		"user_id", "username", "first_name", "last_name", "phone",
		"total_messages", "activity_level", "intelligence_score", "bd_score",
		"conversion_likelihood", "lead_quality", "priority", "estimated_value",
		"investment_capacity", "deal_size_category", "relationship_strength",
		"last_interaction",
	}

	messageHeader = []string{
		"chat_id", "message_id", "from_user_id", "date", "message_type",
		"is_reply", "is_forwarded", "word_count", "time_of_day", "day_of_week",
		"sentiment", "contains_business_keywords", "content_category",
	}

	chatGroupHeader = []string{
		"chat_id", "chat_type", "title", "username", "participant_count",
		"first_message_date", "last_message_date", "total_messages",
	}

	interactionHeader = []string{
		"chat_id", "user_id", "message_count", "business_relevance",
		"first_date", "last_date",
	}

	organizationHeader = []string{
		"opportunity_id", "lead_id", "opportunity_type", "estimated_value",
		"probability", "timeline", "stage", "next_steps", "created_at",
	}

	dashboardHeader = []string{"metric", "value"}
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// formatMoney и formatRatio печатают вещественные колонки с фиксированной
// точностью, чтобы выгрузка одного состояния была байтово одинаковой.
func formatMoney(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func formatRatio(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func formatInt(v int) string { return strconv.Itoa(v) }

func formatID(v int64) string { return strconv.FormatInt(v, 10) }

// contactRow собирает строку листа contacts. Колонки лида заполняются только
// когда контакт квалифицирован; у остальных они пустые.
func contactRow(c store.Contact, lead *store.Lead) []string {
	row := []string{
		formatID(c.UserID), c.Username, c.FirstName, c.LastName, c.Phone,
		formatInt(c.TotalMessages), c.ActivityLevel,
	}
	if lead != nil {
		row = append(row,
			formatInt(lead.IntelligenceScore), formatMoney(lead.BDScore),
			formatMoney(lead.ConversionLikelihood), lead.LeadQuality, lead.Priority,
			formatMoney(lead.EstimatedValue), lead.InvestmentCapacity,
			lead.DealSizeCategory, lead.RelationshipStrength,
		)
	} else {
		row = append(row, "", "", "", "", "", "", "", "", "")
	}
	return append(row, formatTime(c.LastSeen))
}

// leadRow — строка листа leads: те же колонки, что и contacts, но только для
// квалифицированных контактов.
func leadRow(c store.Contact, lead store.Lead) []string {
	return contactRow(c, &lead)
}

// messageRow — метаданные сообщения. Шифртекст и открытый текст в проекцию
// не попадают.
func messageRow(m store.Message) []string {
	return []string{
		formatID(m.ChatID), formatID(m.MessageID), formatID(m.FromUserID),
		formatTime(m.Date), m.MessageType,
		formatBool(m.IsReply), formatBool(m.IsForwarded),
		formatInt(m.WordCount), m.TimeOfDay, m.DayOfWeek,
		m.Sentiment, formatBool(m.ContainsBusinessKeywords), m.ContentCategory,
	}
}

func chatGroupRow(c store.Chat) []string {
	return []string{
		formatID(c.ChatID), c.ChatType, c.Title, c.Username,
		formatInt(c.ParticipantCount),
		formatTime(c.FirstMessageDate), formatTime(c.LastMessageDate),
		formatInt(c.TotalMessages),
	}
}

func interactionRow(c store.Conversation) []string {
	return []string{
		formatID(c.ChatID), formatID(c.UserID), formatInt(c.MessageCount),
		formatRatio(c.BusinessRelevance),
		formatTime(c.FirstDate), formatTime(c.LastDate),
	}
}

func organizationRow(o store.Opportunity) []string {
	return []string{
		o.OpportunityID, o.LeadID, o.OpportunityType,
		formatMoney(o.EstimatedValue), formatRatio(o.Probability),
		o.Timeline, o.Stage, marshalJSONList(o.NextSteps),
		formatTime(o.CreatedAt),
	}
}
