package constants

import (
	"github.com/go-playground/validator/v10"
)

type contextKey string

const (
	TxKey        contextKey = "tx"
	PoolKey      contextKey = "pool"
	LoggerKey    contextKey = "logger"
	ParamsKey    contextKey = "params"
	RequestStart contextKey = "request_start"
	TenantIDKey  contextKey = "tenant_id"
	ActorKey     contextKey = "actor"
	RLSModeKey   contextKey = "rls_mode"
)

var Validate = validator.New(validator.WithRequiredStructEnabled())
