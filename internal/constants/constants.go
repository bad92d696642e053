package constants

import "time"

const (
	DefaultExchange = "taskflow"

	QueueConversationMessages = "conversation_messages"
	QueueExtractedTasks       = "extracted_tasks"
	QueueTaskResults          = "task_results"
)

const (
	ServiceIngestor        = "ingestor-service"
	ServiceExtractor       = "extractor-service"
	ServicePlatformManager = "platform-manager-service"
	ServiceResults         = "results-service"
)

const (
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeKafka    = "kafka"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaDialTimeout  = 10 * time.Second
	KafkaFetchBackoff = time.Second
)

const (
	ContentTypeJSON = "application/json"
	HeaderEventType = "event_type"
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultMessageSource = "manual"
	CLIMessageSource     = "cli"
	MaxBatchSize         = 100
)

const (
	StrategyLLM   = "llm"
	StrategyRules = "rules"

	DefaultLLMBaseURL = "https://api.groq.com/openai/v1"
	DefaultLLMModel   = "llama-3.1-8b-instant"
)

const (
	PlatformConsole  = "console"
	PlatformRedis    = "redis"
	PlatformPostgres = "postgres"

	RedisTaskKeyPrefix = "taskflow:task:"
	RedisTaskIndexKey  = "taskflow:tasks"
)

const (
	TaskStatusCreated = "created"
	TaskStatusFailed  = "failed"
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)
