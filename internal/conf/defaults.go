// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "mediaflow")
	v.SetDefault("main.debug", false)
	v.SetDefault("main.log.enabled", false)
	v.SetDefault("main.log.path", "mediaflow.log")
	v.SetDefault("main.log.maxsizemb", 100)
	v.SetDefault("main.log.maxbackups", 3)
	v.SetDefault("main.log.maxagedays", 28)

	v.SetDefault("engine.maxcontinueretries", 8)
	v.SetDefault("engine.defaultbuscapacity", 64*1024)
	v.SetDefault("engine.defaultblocksize", 4*1024)
	v.SetDefault("engine.metrics", false)
	v.SetDefault("engine.eventbuffersize", 1024)
	v.SetDefault("engine.eventworkers", 2)
}

func defaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	s := &Settings{}
	_ = v.Unmarshal(s)
	return s
}
