package models

const (
	// DefaultRedisTTL время жизни кэшированного снапшота в Redis
	DefaultRedisTTL = 24 * 60 * 60 // 24 часа в секундах

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128

	// ProbeIntervalSeconds interval between scheduled health probes.
	ProbeIntervalSeconds = 300

	// ProbeTimeoutSeconds timeout for a single health probe request.
	ProbeTimeoutSeconds = 5

	// PollIntervalSeconds interval between conversation polls while open.
	PollIntervalSeconds = 30

	// DebounceMillis coalescing window for reconciler triggers.
	DebounceMillis = 300

	// NotFoundThreshold consecutive not-found fetches before a conversation
	// is declared gone.
	NotFoundThreshold = 3

	// ExecutorMaxAttempts default attempt cap for foreground actions.
	ExecutorMaxAttempts = 3

	// RefreshRateLimit количество ручных обновлений в окне
	RefreshRateLimit = 10

	// RefreshRateWindow окно ограничения частоты обновлений (секунды)
	RefreshRateWindow = 60
)
