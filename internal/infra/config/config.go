// Пакет config отвечает за сбор и предоставление конфигурации конвейера
// бизнес-аналитики. Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. вычисляет производные пути под DATA_DIR (база, сессия, pid-файл, бэкапы),
//  4. накапливает предупреждения о подозрительных значениях,
//  5. предоставляет потокобезопасный доступ к результату.
//
// Бизнес-контекст: конфиг управляет подключением к Telegram API (MTProto),
// ключом шифрования текстов, расписанием периодических задач и назначением
// табличной выгрузки (Google Sheets, CSV-каталог или «никуда»).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-bdintel/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// DestinationKind — тип табличного назначения синхронизации.
type DestinationKind string

const (
	DestinationSheets DestinationKind = "sheets"
	DestinationCSV    DestinationKind = "csv"
	DestinationNone   DestinationKind = "none"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учётные данные MTProto, ключ шифрования, каталог данных,
// расписание и назначение выгрузки.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string

	// FernetKey — base64-ключ AEAD; пустое значение означает «найти или сгенерировать».
	FernetKey string

	DataDir string

	// SyncTime — локальное время суточного полного прогона, "HH:MM".
	SyncTimeHour   int
	SyncTimeMinute int

	// SyncLimit — максимум сообщений на диалог за один прогон.
	SyncLimit int

	Destination        DestinationKind
	DestinationID      string
	ServiceAccountFile string

	LogLevel    string
	AppTimezone string

	ThrottleRPS int
	TestDC      bool

	// Периоды фоновых задач. Оффсеты отсчитываются от запуска ingest.
	IngestInterval time.Duration
	EnrichOffset   time.Duration
	SyncOffset     time.Duration

	// FollowUpExclude — список usernames, исключаемых из выгрузки follow-up.
	// По умолчанию пуст; заполняется оператором осознанно.
	FollowUpExclude []string

	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; Load держит эксклюзивный
// Lock на время обновления полей.
type Config struct {
	env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения.
const (
	defaultDataDir        = "./data"
	defaultLogLevel       = "info"
	defaultSyncTime       = "03:00"
	defaultSyncLimit      = 100000
	defaultThrottleRPS    = 1
	defaultIngestInterval = time.Hour
	defaultEnrichOffset   = 5 * time.Minute
	defaultSyncOffset     = 10 * time.Minute
	defaultLogFileMaxSize = 50 // МБ
	defaultLogFileBackups = 5
	defaultLogFileMaxAge  = 14 // дней
)

// ErrConfig маркирует фатальные ошибки конфигурации (код выхода 2 у обёртки CLI).
var ErrConfig = errors.New("config error")

var global = &Config{}

// Load читает .env (если файл существует) и окружение процесса, валидирует
// значения и публикует результат в глобальном конфиге. Отсутствующий .env —
// не ошибка: окружение может быть собрано средой запуска.
func Load(envPath string) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: load %s: %v", ErrConfig, envPath, err)
		}
	}

	cfg, warnings, err := loadConfig()
	if err != nil {
		return err
	}

	global.mu.Lock()
	global.env = cfg
	global.warnings = warnings
	global.mu.Unlock()
	return nil
}

// Env возвращает снимок текущей конфигурации окружения.
func Env() EnvConfig {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.env
}

// Warnings возвращает накопленные при загрузке предупреждения.
func Warnings() []string {
	global.mu.RLock()
	defer global.mu.RUnlock()
	out := make([]string, len(global.warnings))
	copy(out, global.warnings)
	return out
}

// loadConfig собирает EnvConfig из окружения. Возвращает конфиг, предупреждения
// и фатальную ошибку (отсутствие учётных данных Telegram, битые значения).
func loadConfig() (EnvConfig, []string, error) {
	var warnings []string

	apiID, err := strconv.Atoi(strings.TrimSpace(os.Getenv("TELEGRAM_API_ID")))
	if err != nil || apiID <= 0 {
		return EnvConfig{}, nil, fmt.Errorf("%w: TELEGRAM_API_ID is missing or not a number", ErrConfig)
	}
	apiHash := strings.TrimSpace(os.Getenv("TELEGRAM_API_HASH"))
	if apiHash == "" {
		return EnvConfig{}, nil, fmt.Errorf("%w: TELEGRAM_API_HASH is required", ErrConfig)
	}
	phone := strings.TrimSpace(os.Getenv("TELEGRAM_PHONE"))
	if phone == "" {
		warnings = append(warnings, "TELEGRAM_PHONE is empty, interactive login will prompt for it")
	}

	dataDir := strings.TrimSpace(os.Getenv("DATA_DIR"))
	if dataDir == "" {
		dataDir = defaultDataDir
	}

	syncTime := getOrDefault("SYNC_TIME", defaultSyncTime)
	hour, minute, err := timeutil.ParseClock(syncTime)
	if err != nil {
		return EnvConfig{}, nil, fmt.Errorf("%w: SYNC_TIME: %v", ErrConfig, err)
	}

	syncLimit := intOrDefault("SYNC_LIMIT", defaultSyncLimit, &warnings)
	if syncLimit <= 0 {
		warnings = append(warnings, "SYNC_LIMIT must be positive, using default")
		syncLimit = defaultSyncLimit
	}

	dest := DestinationKind(strings.ToLower(getOrDefault("DESTINATION_KIND", string(DestinationNone))))
	switch dest {
	case DestinationSheets, DestinationCSV, DestinationNone:
	default:
		return EnvConfig{}, nil, fmt.Errorf("%w: DESTINATION_KIND %q not in {sheets, csv, none}", ErrConfig, dest)
	}
	destID := strings.TrimSpace(os.Getenv("DESTINATION_ID"))
	serviceAccount := strings.TrimSpace(os.Getenv("SERVICE_ACCOUNT_FILE"))
	if dest == DestinationSheets {
		if destID == "" {
			return EnvConfig{}, nil, fmt.Errorf("%w: DESTINATION_ID is required for sheets destination", ErrConfig)
		}
		if serviceAccount == "" {
			return EnvConfig{}, nil, fmt.Errorf("%w: SERVICE_ACCOUNT_FILE is required for sheets destination", ErrConfig)
		}
	}
	if dest == DestinationCSV && destID == "" {
		destID = filepath.Join(dataDir, "export")
		warnings = append(warnings, "DESTINATION_ID is empty for csv destination, using "+destID)
	}

	throttleRPS := intOrDefault("THROTTLE_RPS", defaultThrottleRPS, &warnings)
	if throttleRPS <= 0 {
		throttleRPS = defaultThrottleRPS
	}

	appTZ := getOrDefault("APP_TIMEZONE", "UTC")
	if _, err = timeutil.ParseLocation(appTZ); err != nil {
		return EnvConfig{}, nil, fmt.Errorf("%w: APP_TIMEZONE: %v", ErrConfig, err)
	}

	cfg := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phone,

		FernetKey: strings.TrimSpace(os.Getenv("FERNET_KEY")),

		DataDir: dataDir,

		SyncTimeHour:   hour,
		SyncTimeMinute: minute,
		SyncLimit:      syncLimit,

		Destination:        dest,
		DestinationID:      destID,
		ServiceAccountFile: serviceAccount,

		LogLevel:    strings.ToLower(getOrDefault("LOG_LEVEL", defaultLogLevel)),
		AppTimezone: appTZ,

		ThrottleRPS: throttleRPS,
		TestDC:      boolOrDefault("TELEGRAM_TEST_DC", false),

		IngestInterval: durationOrDefault("INGEST_INTERVAL", defaultIngestInterval, &warnings),
		EnrichOffset:   durationOrDefault("ENRICH_OFFSET", defaultEnrichOffset, &warnings),
		SyncOffset:     durationOrDefault("SYNC_OFFSET", defaultSyncOffset, &warnings),

		FollowUpExclude: splitList(os.Getenv("FOLLOWUP_EXCLUDE")),

		LogFile:           strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogFileLevel:      strings.ToLower(getOrDefault("LOG_FILE_LEVEL", "debug")),
		LogFileMaxSize:    intOrDefault("LOG_FILE_MAX_SIZE", defaultLogFileMaxSize, &warnings),
		LogFileMaxBackups: intOrDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileBackups, &warnings),
		LogFileMaxAge:     intOrDefault("LOG_FILE_MAX_AGE", defaultLogFileMaxAge, &warnings),
		LogFileCompress:   boolOrDefault("LOG_FILE_COMPRESS", true),
	}

	return cfg, warnings, nil
}

// DatabasePath — путь к встроенной реляционной базе.
func (e EnvConfig) DatabasePath() string { return filepath.Join(e.DataDir, "core.db") }

// SessionPath — путь к файлу MTProto-сессии.
func (e EnvConfig) SessionPath() string { return filepath.Join(e.DataDir, "core.session") }

// PidPath — путь к pid-файлу одно-экземплярной блокировки.
func (e EnvConfig) PidPath() string { return filepath.Join(e.DataDir, "core.pid") }

// KeyPath — путь к файлу ключа шифрования.
func (e EnvConfig) KeyPath() string { return filepath.Join(e.DataDir, "core.key") }

// PeersCachePath — путь к bbolt-кэшу пиров Telegram.
func (e EnvConfig) PeersCachePath() string { return filepath.Join(e.DataDir, "peers_cache.bbolt") }

// BackupDir — каталог периодических бэкапов базы.
func (e EnvConfig) BackupDir() string { return filepath.Join(e.DataDir, "backups") }

// Location возвращает таймзону приложения. Значение валидируется при загрузке,
// поэтому ошибка здесь означает дефект и схлопывается в UTC.
func (e EnvConfig) Location() *time.Location {
	loc, err := timeutil.ParseLocation(e.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getOrDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intOrDefault(key string, def int, warnings *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a number, using %d", key, v, def))
		return def
	}
	return n
}

func boolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationOrDefault(key string, def time.Duration, warnings *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, v, def))
		return def
	}
	return d
}

// splitList разбирает список, разделённый запятыми, отбрасывая пустые элементы.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, strings.TrimPrefix(v, "@"))
		}
	}
	return out
}
