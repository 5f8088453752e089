package conf

import (
	"strings"

	"github.com/spf13/viper"
)

// bindEnv maps DUALVERIFY_SECTION_KEY onto section.key for every registered key.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}
