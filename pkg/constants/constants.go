package constants

type contextKey string

const (
	PoolKey     contextKey = "pool"
	TxKey       contextKey = "tx"
	TenantIDKey contextKey = "tenant_id"
	UserIDKey   contextKey = "user_id"
	LoggerKey   contextKey = "logger"
)
