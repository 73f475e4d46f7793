// Package store — встроенное реляционное хранилище конвейера на SQLite.
// Владеет всем персистентным состоянием: контактами, чатами, сообщениями
// (шифртекст + плоские колонки обогащения), лидами, follow-up, возможностями
// и очередью задач синхронизации. Записи, пересекающие границы компонентов,
// описаны закрытыми типами с явными полями; JSON появляется только на границе
// хранилища и проекции.
package store

import "time"

// Уровни активности контакта (производная от total_messages).
const (
	ActivityVeryActive = "very_active"
	ActivityActive     = "active"
	ActivityModerate   = "moderate"
	ActivityOccasional = "occasional"
)

// Уровни вовлечённости участника чата.
const (
	EngagementHigh   = "high"
	EngagementMedium = "medium"
	EngagementLow    = "low"
)

// Типы чатов Telegram.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// Категории сообщений, вычисляемые обогащением.
const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"

	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	CategoryBusiness  = "business"
	CategoryTechnical = "technical"
	CategoryCasual    = "casual"
	CategorySocial    = "social"
)

// Качество и приоритет лида.
const (
	LeadHot  = "hot"
	LeadWarm = "warm"
	LeadCold = "cold"

	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Ёмкость и масштаб сделки.
const (
	CapacityHigh   = "high"
	CapacityMedium = "medium"
	CapacityLow    = "low"

	DealEnterprise = "enterprise"
	DealMidMarket  = "mid-market"
	DealStartup    = "startup"
)

// Сила отношений с контактом.
const (
	RelationshipStrong   = "strong"
	RelationshipModerate = "moderate"
	RelationshipWeak     = "weak"
)

// Статусы follow-up.
const (
	FollowUpPending = "pending"
	FollowUpSent    = "sent"
	FollowUpDone    = "done"
	FollowUpFailed  = "failed"
)

// Стадии возможности.
const (
	StageIdentified    = "identified"
	StageQualification = "qualification"
	StageProposal      = "proposal"
	StageClosing       = "closing"
)

// Операции и состояния задач синхронизации.
const (
	SyncOpUpsert = "upsert"
	SyncOpDelete = "delete"

	SyncPending    = "pending"
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
	SyncConflict   = "conflict"
)

// Contact — наблюдаемый пользователь Telegram. Создаётся при первом сообщении,
// мутируется обогащением, ядром никогда не удаляется.
type Contact struct {
	UserID        int64
	Username      string
	FirstName     string
	LastName      string
	Phone         string
	IsBot         bool
	IsVerified    bool
	IsPremium     bool
	TotalMessages int
	TotalChats    int
	ActivityLevel string
	FirstSeen     time.Time
	LastSeen      time.Time
	UpdatedAt     time.Time
}

// Chat — диалог Telegram любого типа. Создаётся при первом наблюдаемом сообщении.
type Chat struct {
	ChatID           int64
	ChatType         string
	Title            string
	Username         string
	ParticipantCount int
	FirstMessageDate time.Time
	LastMessageDate  time.Time
	TotalMessages    int
	UpdatedAt        time.Time
}

// ChatParticipant — производная связка (chat, user); перестраивается обогащением идемпотентно.
type ChatParticipant struct {
	ChatID          int64
	UserID          int64
	MessageCount    int
	FirstSeen       time.Time
	LastSeen        time.Time
	EngagementLevel string
}

// Message — сообщение с зашифрованным текстом и плоскими колонками обогащения.
// Текст в покое — всегда шифртекст; открытый текст существует только в памяти
// процесса на время обработки.
type Message struct {
	ChatID      int64
	MessageID   int64
	FromUserID  int64
	Date        time.Time
	Ciphertext  []byte
	MessageType string
	IsReply     bool
	IsForwarded bool
	EditDate    time.Time // нулевое значение — правок не было

	// Колонки обогащения. Валидны только при Enriched=true.
	Enriched                 bool
	WordCount                int
	TimeOfDay                string
	DayOfWeek                string
	LengthCategory           string
	Sentiment                string
	ContainsBusinessKeywords bool
	IsQuestion               bool
	ContainsMedia            bool
	ContainsLinks            bool
	ContentCategory          string
}

// Conversation — проекция присутствия контакта в чате с агрегатами.
type Conversation struct {
	ChatID            int64
	UserID            int64
	MessageCount      int
	BusinessRelevance float64
	FirstDate         time.Time
	LastDate          time.Time
}

// Lead — квалифицированный контакт с накопленными сигналами.
// Списковые поля строятся заново на каждом прогоне обогащения и никогда
// не разделяют идентичность между строками.
type Lead struct {
	LeadID               string // "lead_" + user_id
	UserID               int64
	BDScore              float64
	IntelligenceScore    int
	ConversionLikelihood float64
	LeadQuality          string
	Priority             string
	EstimatedValue       float64
	InvestmentCapacity   string
	DealSizeCategory     string
	RelationshipStrength string

	BusinessKeywords     []string
	InvestmentKeywords   []string
	TechnologyExpertise  []string
	DecisionMakerSignals []string
	NetworkInfluence     []string
	TrustIndicators      []string
	FinancialIndicators  []string

	PersonalizedMessage string
	MeetingAgenda       string
	CallToAction        string
	FollowUpTiming      string

	UpdatedAt time.Time
}

// FollowUp — единица исходящей работы по лиду.
type FollowUp struct {
	FollowUpID  string
	LeadID      string
	ActionType  string
	Description string
	Priority    string
	DueDate     time.Time
	Status      string
	CreatedAt   time.Time
}

// Opportunity — потенциальная сделка в пайплайне.
type Opportunity struct {
	OpportunityID   string
	LeadID          string
	OpportunityType string
	EstimatedValue  float64
	Probability     float64
	Timeline        string
	Stage           string
	NextSteps       []string
	CreatedAt       time.Time
}

// SyncTask — единица исходящей проекции. Переходы состояния монотонны в
// пределах попытки: pending → in_progress → {completed|failed|conflict};
// failed может вернуться в pending политикой ретраев, completed терминален.
type SyncTask struct {
	SyncID      string
	TableName   string
	RecordID    string
	Operation   string
	State       string
	Attempts    int
	LastError   string
	EnqueuedAt  time.Time
	CompletedAt time.Time // нулевое значение — ещё не завершена
}

// LeadIDFor возвращает детерминированный идентификатор лида для пользователя.
func LeadIDFor(userID int64) string {
	return "lead_" + itoa(userID)
}

// itoa — локальный форматтер int64 без зависимости от fmt на горячем пути.
func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
