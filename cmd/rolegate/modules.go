package main

// Compiled modules. Each registers itself with core in init.
import (
	_ "github.com/flemzord/rolegate/internal/gateway"
	_ "github.com/flemzord/rolegate/modules/chat/dispatcher"
	_ "github.com/flemzord/rolegate/modules/llm/generic"
	_ "github.com/flemzord/rolegate/modules/maintenance/cron"
	_ "github.com/flemzord/rolegate/modules/store/memory"
	_ "github.com/flemzord/rolegate/modules/store/sqlite"
	_ "github.com/flemzord/rolegate/modules/telemetry/otel"
)
