package utils

import "github.com/spf13/viper"

// Set the viper defaults for a soundstage client.
// For use in cmd, as well as several examples.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("framedurationms", 20)
	viper.SetDefault("reindexdebouncems", 60)
	viper.SetDefault("spatialaudio", true)
	viper.SetDefault("outputwav", "soundstage_mix.wav")
}
