package config

import (
	"strings"

	"github.com/spf13/viper"
)

// bindEnv wires SONORA_-prefixed environment variables over the config tree,
// e.g. SONORA_PLUGIN_ENABLED=false or SONORA_ENGINE_LATENCY_TARGETLATENCYMS=40,
// matching the teacher's env-override convention for its own BIRDNET_-
// prefixed settings.
func bindEnv() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}
