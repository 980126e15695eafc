package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundstage-audio/soundstage/cmd/config"
	"github.com/soundstage-audio/soundstage/internal/audioapi"
	"github.com/soundstage-audio/soundstage/internal/conference"
	"github.com/soundstage-audio/soundstage/internal/spatial"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice/device"
	"github.com/spf13/viper"
)

// Renders a small conference offline: each wav file passed on the command
// line becomes one participant, seated left-to-right across the stereo
// field, and the binaural mix lands in the configured output wav.
func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	participantFiles := flag.Args()
	if len(participantFiles) == 0 {
		participantFiles = viper.GetStringSlice("participants")
	}
	if len(participantFiles) == 0 {
		slog.Error("no participant wav files given, pass them as arguments or set `participants` in the config")
		panic("no participants")
	}

	// --------------------------------------------------------------------------------

	frameDuration := time.Duration(viper.GetInt("framedurationms")) * time.Millisecond

	outputPath := viper.GetString("outputwav")
	outputDevice, err := device.NewFileAudioOutputDevice(outputPath, 48000, 2)
	if err != nil {
		slog.Error("error creating output wav", "outputPath", outputPath, "err", err)
		panic(err)
	}

	engine := spatial.NewEngine(
		audioapi.NewStaticAudioOutputAPI(outputPath, outputDevice),
		spatial.Config{
			FrameDuration:   frameDuration,
			ReindexDebounce: time.Duration(viper.GetInt("reindexdebouncems")) * time.Millisecond,
			SpatialEnabled:  viper.GetBool("spatialaudio"),
		},
	)
	session := conference.NewSession(engine, slog.Default())

	// --------------------------------------------------------------------------------

	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	defer ctxCancelFunc()

	for i, audioFilePath := range participantFiles {
		inputDevice, err := device.NewFileAudioInputDevice(audioFilePath, frameDuration)
		if err != nil {
			slog.Error("error opening participant wav", "audioFilePath", audioFilePath, "err", err)
			panic(err)
		}

		participantID := fmt.Sprintf("participant-%d", i+1)
		session.TrackAttached(participantID, inputDevice, 1.0)
		inputDevice.Play(ctx)

		slog.Info(
			"participant attached",
			"participantID", participantID,
			"audioFilePath", audioFilePath,
		)
	}

	// --------------------------------------------------------------------------------

	// Each input closes itself at end of file, which tears its graph down.
	// Once the last graph is gone the mix is complete.
	for engine.Index().Len() > 0 {
		time.Sleep(frameDuration)
	}

	engine.Close()
	outputDevice.WaitForClose()
	slog.Info("render complete", "outputPath", outputPath)
}
