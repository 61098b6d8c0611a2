package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	DryRunMode         string
	LiveVenueMode      string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	SystemMetricsInit  string

	// Reference data
	InstrumentsLoaded        string
	InstrumentsLoadFailed    string
	StrategyConfigLoadFailed string
	StrategySyncFailed       string
	StrategySeedComplete     string

	// Execution
	ExecutionEnabled  string
	ExecutionDisabled string
	OrderPriceMode    string

	// Services
	PositionSyncStarted   string
	RMSStarted            string
	RMSThresholds         string
	StrikeResolverStarted string
	VenueFeedStarted      string
	MockFeedStarted       string
	FeedResubscribed      string
	TickProcessingPanic   string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting straddle core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Background loops stopped.",
	DryRunMode:         "Running in DRY-RUN mode (orders fill against the paper venue)",
	LiveVenueMode:      "Live venue mode: orders go to %s",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	SystemMetricsInit:  "System metrics initialized",

	// Reference data
	InstrumentsLoaded:        "Loaded %d instruments from %s",
	InstrumentsLoadFailed:    "Failed to load instrument master: %v (strike resolution disabled)",
	StrategyConfigLoadFailed: "Failed to read strategy seed file: %v",
	StrategySyncFailed:       "Failed to sync strategy seed to DB: %v",
	StrategySeedComplete:     "Strategy seed synced (%d configs)",

	// Execution
	ExecutionEnabled:  "Straddle execution ENABLED",
	ExecutionDisabled: "Straddle execution disabled (set ACTIVATE_STRADLE_EXECUTION=true to enable)",
	OrderPriceMode:    "Entry order price mode: %s",

	// Services
	PositionSyncStarted:   "Position sync started (interval: %v)",
	RMSStarted:            "RMS engine started (refresh: %v)",
	RMSThresholds:         "RMS thresholds: ratio>=%.2f underlying move>=%.2f%%",
	StrikeResolverStarted: "Strike resolver started (interval: %v)",
	VenueFeedStarted:      "Venue tick feed started",
	MockFeedStarted:       "Mock tick feed started",
	FeedResubscribed:      "Feed subscriptions updated (%d keys)",
	TickProcessingPanic:   "PANIC in tick processing: %v",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "正在啟動跨式策略核心...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "伺服器監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	ShutdownComplete:   "背景迴圈已停止。",
	DryRunMode:         "以 DRY-RUN 模式執行（訂單在模擬交易所成交）",
	LiveVenueMode:      "實盤模式：訂單送往 %s",
	ConfigLoadFailed:   "載入設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	SystemMetricsInit:  "系統指標已初始化",

	// Reference data
	InstrumentsLoaded:        "已從 %[2]s 載入 %[1]d 筆商品資料",
	InstrumentsLoadFailed:    "載入商品主檔失敗：%v（停用履約價解析）",
	StrategyConfigLoadFailed: "讀取策略種子檔失敗：%v",
	StrategySyncFailed:       "同步策略種子到資料庫失敗：%v",
	StrategySeedComplete:     "策略種子已同步（%d 筆）",

	// Execution
	ExecutionEnabled:  "跨式下單已啟用",
	ExecutionDisabled: "跨式下單已停用（設定 ACTIVATE_STRADLE_EXECUTION=true 以啟用）",
	OrderPriceMode:    "進場訂單價格模式：%s",

	// Services
	PositionSyncStarted:   "持倉同步已啟動（間隔：%v）",
	RMSStarted:            "風控引擎已啟動（刷新：%v）",
	RMSThresholds:         "風控門檻：比率>=%.2f 標的變動>=%.2f%%",
	StrikeResolverStarted: "履約價解析已啟動（間隔：%v）",
	VenueFeedStarted:      "交易所行情訂閱已啟動",
	MockFeedStarted:       "模擬行情訂閱已啟動",
	FeedResubscribed:      "行情訂閱已更新（%d 個）",
	TickProcessingPanic:   "處理行情時發生 PANIC：%v",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
