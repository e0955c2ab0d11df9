// Command noisicore runs a standalone audio engine: it builds a demo
// program and streams it to the configured backend until interrupted.
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/backend"
	"github.com/libreblog/noisicaa/buffer"
	"github.com/libreblog/noisicaa/engine"
	"github.com/libreblog/noisicaa/log"
)

func setDefaults() {
	viper.SetDefault("block-size", 256)
	viper.SetDefault("sample-rate", 44100)
	viper.SetDefault("backend", "portaudio")
	viper.SetDefault("ipc-address", "")
	viper.SetDefault("output", "noisicore.wav")
	viper.SetDefault("output-format", "wav")
	viper.SetDefault("log-level", "info")
}

func loadConfig(logger *logrus.Logger) {
	setDefaults()
	viper.SetEnvPrefix("noisicaa")
	viper.AutomaticEnv()

	if len(os.Args) > 1 {
		viper.SetConfigFile(os.Args[1])
		if err := viper.ReadInConfig(); err != nil {
			logger.WithError(err).Fatal("failed to read config")
		}
	}
}

func newBackend(logger *logrus.Logger, settings backend.Settings) backend.Backend {
	switch name := viper.GetString("backend"); name {
	case "portaudio":
		return backend.NewPortAudio(logger, settings)
	case "ipc":
		return backend.NewIPC(logger, settings)
	case "renderer":
		return backend.NewRenderer(logger, settings)
	case "null":
		return backend.NewNull(settings)
	default:
		logger.Fatalf("unknown backend %q", name)
		return nil
	}
}

// demoSpec builds a 440 Hz sine routed to both channels.
func demoSpec() (*engine.Spec, error) {
	spec := engine.NewSpec()
	if err := spec.AppendBuffer("out", buffer.FloatAudio{}); err != nil {
		return nil, err
	}
	idx, err := spec.BufferIdx("out")
	if err != nil {
		return nil, err
	}
	steps := []error{
		spec.AppendOp(engine.OpSine, engine.IntArg(int64(idx)), engine.FloatArg(440)),
		spec.AppendOp(engine.OpMul, engine.IntArg(int64(idx)), engine.FloatArg(0.4)),
		spec.AppendOp(engine.OpOutput, engine.IntArg(int64(idx)), engine.StringArg(noisicaa.ChannelLeft)),
		spec.AppendOp(engine.OpOutput, engine.IntArg(int64(idx)), engine.StringArg(noisicaa.ChannelRight)),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func main() {
	logger := log.GetLogger()
	loadConfig(logger)

	if level, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		logger.SetLevel(level)
	}

	host := &noisicaa.Host{
		SampleRate: viper.GetInt("sample-rate"),
		Log:        logger,
	}
	e := engine.New(host)
	defer e.Cleanup()

	settings := backend.Settings{
		BlockSize:    uint32(viper.GetInt("block-size")),
		IPCAddress:   viper.GetString("ipc-address"),
		OutputPath:   viper.GetString("output"),
		OutputFormat: viper.GetString("output-format"),
	}
	b := newBackend(logger, settings)
	if err := b.Setup(e); err != nil {
		logger.WithError(err).Fatal("backend setup failed")
	}
	defer b.Cleanup()

	spec, err := demoSpec()
	if err != nil {
		logger.WithError(err).Fatal("failed to build spec")
	}
	if err := e.SetSpec(spec); err != nil {
		logger.WithError(err).Fatal("failed to set spec")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	logger.Infof("running with backend %q", viper.GetString("backend"))
	ctxt := &noisicaa.BlockContext{}
	for {
		select {
		case sig := <-sigc:
			logger.Infof("received %v, shutting down", sig)
			return
		default:
		}

		ctxt.Reset()
		if err := e.ProcessBlock(b, ctxt); err != nil {
			if errors.Is(err, noisicaa.ErrConnectionClosed) {
				logger.Info("peer closed the stream")
				return
			}
			logger.WithError(err).Error("block failed")
			return
		}
		ctxt.SamplePos += uint64(ctxt.BlockSize)
	}
}
