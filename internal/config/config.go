// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры,
// перед этим godotenv подхватывает .env, если он есть.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"serotonyl.ru/altyn-ledger/internal/ledger"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- HTTP ---
	HTTPAddr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOriginsRaw      string        `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSOrigins         []string      `envconfig:"-"`

	// --- Storage ---
	// postgres — боевой режим, memory — для локальной разработки без БД
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"altyn"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"altyn_ledger"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Auth ---
	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	AdminJWTSecret    string        `envconfig:"ADMIN_JWT_SECRET" required:"true"`
	AdminUsername     string        `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`
	AdminTokenTTL     time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`

	// --- Ledger ---
	FeeRateRaw          string `envconfig:"LEDGER_FEE_RATE" default:"0.001"`
	LockDays            int    `envconfig:"LEDGER_LOCK_DAYS" default:"30"`
	StandardCapacityRaw string `envconfig:"LEDGER_STANDARD_CAPACITY" default:"5000"`
	SuperCapacityRaw    string `envconfig:"LEDGER_SUPER_CAPACITY" default:"100000"`
	SuperThresholdRaw   string `envconfig:"LEDGER_SUPER_THRESHOLD" default:"10000"`
	TokenSupplyRaw      string `envconfig:"LEDGER_TOKEN_SUPPLY" default:"35000000"`
	WelcomeBonusRaw     string `envconfig:"LEDGER_WELCOME_BONUS" default:"0"`
	// Сколько раз повторять единицу работы при конфликте блокировок
	LedgerTxRetries int `envconfig:"LEDGER_TX_RETRIES" default:"3"`

	// --- ALTYN import ---
	AltynTransferMode    string        `envconfig:"ALTYN_TRANSFER_MODE" default:"MODERATION"`
	AltynVerifierURL     string        `envconfig:"ALTYN_VERIFIER_URL"`
	AltynVerifierTimeout time.Duration `envconfig:"ALTYN_VERIFIER_TIMEOUT" default:"5s"`
	AltynVerifierRetries int           `envconfig:"ALTYN_VERIFIER_RETRIES" default:"3"`

	// --- Jobs ---
	// Пустое расписание отключает автоматическое распределение дивидендов
	DividendSchedule string `envconfig:"DIVIDEND_SCHEDULE"`
	AuditSchedule    string `envconfig:"AUDIT_SCHEDULE" default:"0 * * * *"`

	// --- Telegram ---
	// Без токена уведомления админам не отправляются
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	AdminChatIDsRaw  string  `envconfig:"ADMIN_CHAT_IDS"`
	AdminChatIDs     []int64 `envconfig:"-"` // заполним вручную

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// Параметры леджера, разобранные из LEDGER_*
	Ledger ledger.Params `envconfig:"-"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD не задан")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_DRIVER=memory нельзя использовать в production")
		}
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == c.AdminJWTSecret {
		return fmt.Errorf("JWT_SECRET и ADMIN_JWT_SECRET должны различаться")
	}
	if c.LockDays <= 0 {
		return fmt.Errorf("LEDGER_LOCK_DAYS должен быть > 0")
	}
	if c.LedgerTxRetries < 0 {
		return fmt.Errorf("LEDGER_TX_RETRIES должен быть >= 0")
	}
	if c.AltynVerifierRetries < 0 || c.AltynVerifierTimeout <= 0 {
		return fmt.Errorf("некорректные ALTYN_VERIFIER_TIMEOUT/ALTYN_VERIFIER_RETRIES")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("некорректные RATE_LIMIT_REQUESTS/RATE_LIMIT_WINDOW")
	}
	p := c.Ledger
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("LEDGER_FEE_RATE должен быть в [0, 1)")
	}
	if !p.StandardCapacity.IsPositive() || p.SuperCapacity.LessThan(p.StandardCapacity) {
		return fmt.Errorf("некорректные ёмкости узлов")
	}
	if !p.TokenSupply.IsPositive() {
		return fmt.Errorf("LEDGER_TOKEN_SUPPLY должен быть > 0")
	}
	if p.WelcomeBonus.IsNegative() {
		return fmt.Errorf("LEDGER_WELCOME_BONUS не может быть отрицательным")
	}
	return nil
}

// Load читает .env (если есть) и переменные окружения и заполняет Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AdminChatIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_IDS parse: %w", err)
	}
	cfg.AdminChatIDs = ids
	cfg.CORSOrigins = parseCSV(cfg.CORSOriginsRaw)

	params, err := cfg.parseLedger()
	if err != nil {
		return nil, err
	}
	cfg.Ledger = params

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseLedger() (ledger.Params, error) {
	p := ledger.DefaultParams()
	p.LockDays = c.LockDays

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"LEDGER_FEE_RATE", c.FeeRateRaw, &p.FeeRate},
		{"LEDGER_STANDARD_CAPACITY", c.StandardCapacityRaw, &p.StandardCapacity},
		{"LEDGER_SUPER_CAPACITY", c.SuperCapacityRaw, &p.SuperCapacity},
		{"LEDGER_SUPER_THRESHOLD", c.SuperThresholdRaw, &p.SuperThreshold},
		{"LEDGER_TOKEN_SUPPLY", c.TokenSupplyRaw, &p.TokenSupply},
		{"LEDGER_WELCOME_BONUS", c.WelcomeBonusRaw, &p.WelcomeBonus},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return p, fmt.Errorf("%s parse: %w", f.name, err)
		}
		*f.dst = v
	}

	switch mode := ledger.TransferMode(strings.ToUpper(strings.TrimSpace(c.AltynTransferMode))); mode {
	case ledger.ModeAutomatic, ledger.ModeModeration:
		p.TransferMode = mode
	default:
		return p, fmt.Errorf("ALTYN_TRANSFER_MODE: неизвестный режим %q", c.AltynTransferMode)
	}
	return p, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
