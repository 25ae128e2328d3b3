// ABOUTME: Entry point for the wavebridge CLI
// ABOUTME: Subcommands for device listing, recording, playback, streaming, and monitoring
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wavebridge-Audio/wavebridge-go/internal/app"
	"github.com/Wavebridge-Audio/wavebridge-go/internal/config"
	"github.com/Wavebridge-Audio/wavebridge-go/internal/ui"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/bridge"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/capture"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/device"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/render"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/volume"
	"github.com/Wavebridge-Audio/wavebridge-go/pkg/wave"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wavebridge <command> [flags]

Commands:
  devices   List capture and render endpoints
  record    Capture the microphone to a WAV file
  play      Play a WAV or MP3 file
  serve     Publish live capture audio over WebSocket
  monitor   Show a live capture level meter

Run 'wavebridge <command> -h' for command flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "devices":
		err = cmdDevices(os.Args[2:])
	case "record":
		err = cmdRecord(os.Args[2:])
	case "play":
		err = cmdPlay(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "monitor":
		err = cmdMonitor(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// setupLogging directs log output to the configured file, optionally
// mirrored to stdout. File-only mode keeps TUI screens clean.
func setupLogging(path string, alsoStdout bool) (func(), error) {
	if path == "" {
		if !alsoStdout {
			log.SetOutput(io.Discard)
		}
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if alsoStdout {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}
	return func() { _ = f.Close() }, nil
}

// captureFormat builds the desired client-side capture format.
func captureFormat(c config.Capture) *wave.Format {
	if c.Float {
		f := wave.NewIEEEFloat(c.SampleRate, c.Channels)
		return &f
	}
	f := wave.NewPCM(c.SampleRate, c.Channels, c.BitsPerSample)
	return &f
}

// captureConfig maps file configuration onto an engine configuration.
func captureConfig(c config.Capture) *capture.Config {
	cadence := capture.EventDriven()
	if c.PollIntervalMs > 0 {
		cadence = capture.Polled(time.Duration(c.PollIntervalMs) * time.Millisecond)
	}
	return &capture.Config{
		DeviceName:      c.Device,
		TargetLatencyMs: c.TargetLatencyMs,
		BufferMs:        c.BufferMs,
		Gain:            c.Gain,
		Cadence:         cadence,
		SpeechOptimized: c.SpeechOptimized,
		DropOutOfOrder:  c.DropOutOfOrder,
		Format:          captureFormat(c),
	}
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Printf("Shutdown signal received")
}

func cmdDevices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	fs.Parse(args)

	ctx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	for _, dir := range []device.Direction{device.Capture, device.Render} {
		endpoints, err := device.ListDevices(ctx, dir)
		if err != nil {
			return err
		}

		fmt.Printf("%s devices:\n", dir)
		for _, ep := range endpoints {
			marker := " "
			if ep.IsDefault {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, ep.Name)
		}
		fmt.Println()
	}
	return nil
}

func cmdRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file path")
	output := fs.String("output", "capture.wav", "Output WAV file path")
	duration := fs.Duration("duration", 0, "Recording length (0 = until interrupted)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogFile, true)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	ccfg := captureConfig(cfg.Capture)
	recorder, err := app.NewRecorder(*output, *ccfg.Format)
	if err != nil {
		return err
	}

	engine := capture.NewEngine(ctx, ccfg, recorder.Callback)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Start(); err != nil {
		return err
	}
	log.Printf("Recording to %s (%s)", *output, ccfg.Format.String())

	if *duration > 0 {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-time.After(*duration):
			log.Printf("Recording duration reached")
		case <-sigChan:
			log.Printf("Shutdown signal received")
		}
	} else {
		waitForSignal()
	}

	if err := engine.Stop(); err != nil {
		log.Printf("Warning: capture stop error: %v", err)
	}
	if err := recorder.Close(); err != nil {
		return err
	}
	if n := recorder.Dropped(); n > 0 {
		log.Printf("Warning: recorder dropped %d blocks", n)
	}
	log.Printf("Saved %s", *output)
	return nil
}

func cmdPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file path")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: wavebridge play [flags] <file.wav|file.mp3>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogFile, true)
	if err != nil {
		return err
	}
	defer closeLog()

	src, err := app.OpenSource(fs.Arg(0))
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	srcFormat := src.Format()
	rcfg := &render.Config{
		DeviceName:      cfg.Render.Device,
		TargetLatencyMs: cfg.Render.TargetLatencyMs,
		RingMs:          cfg.Render.RingMs,
		Gain:            cfg.Render.Gain,
		Format:          &srcFormat,
	}

	engine := render.NewEngine(ctx, rcfg)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Start(); err != nil {
		return err
	}

	err = app.Stream(src, 100, func(p []byte) error {
		return engine.AppendAudio(p, false)
	})
	if err != nil {
		return err
	}

	// Let the tail of the ring drain before tearing playback down.
	for engine.Buffered() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(time.Duration(cfg.Render.TargetLatencyMs) * time.Millisecond)

	return engine.Stop()
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogFile, true)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	adapter := bridge.NewAdapter(cfg.Bridge.QueueDepth)
	ccfg := captureConfig(cfg.Capture)

	engine := capture.NewEngine(ctx, ccfg, adapter.Post)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Close()

	adapter.SetFormat(*ccfg.Format)

	server := bridge.NewServer(bridge.Config{
		Port:       cfg.Bridge.Port,
		Name:       cfg.Bridge.Name,
		EnableMDNS: cfg.Bridge.EnableMDNS,
	}, adapter)

	vb := volume.NewBridge(engine)
	vb.Subscribe(func(n volume.Notification) {
		server.PublishVolume(bridge.VolumeState{Level: n.Level, Muted: n.Muted})
	})
	defer vb.Unsubscribe()

	server.OnVolume(func(state bridge.VolumeState) {
		if err := vb.SetLevel(state.Level); err != nil {
			log.Printf("Volume set error: %v", err)
		}
		if err := vb.SetMuted(state.Muted); err != nil {
			log.Printf("Mute set error: %v", err)
		}
	})

	if err := engine.Start(); err != nil {
		return err
	}

	go func() {
		waitForSignal()
		server.Stop()
	}()

	err = server.Start()

	if stopErr := engine.Stop(); stopErr != nil {
		log.Printf("Warning: capture stop error: %v", stopErr)
	}
	adapter.Close()
	return err
}

func cmdMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = "wavebridge-monitor.log"
	}
	closeLog, err := setupLogging(logPath, false)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, err := device.NewContext()
	if err != nil {
		return err
	}
	defer ctx.Close()

	changes := make(chan ui.VolumeChangeMsg, 10)
	prog := ui.Run(changes)

	ccfg := captureConfig(cfg.Capture)
	engine := capture.NewEngine(ctx, ccfg, func(buf *wave.Buffer) {
		rms, peak := measureLevels(buf.Data, *buf.Format)
		prog.Send(ui.LevelMsg{RMS: rms, Peak: peak})
	})
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Close()

	vb := volume.NewBridge(engine)
	go func() {
		for change := range changes {
			if err := vb.SetLevel(change.Level); err != nil {
				log.Printf("Volume set error: %v", err)
			}
			if err := vb.SetMuted(change.Muted); err != nil {
				log.Printf("Mute set error: %v", err)
			}
		}
	}()

	if err := engine.Start(); err != nil {
		return err
	}
	prog.Send(ui.FormatMsg{Description: ccfg.Format.String()})

	if _, err := prog.Run(); err != nil {
		log.Printf("TUI error: %v", err)
	}
	close(changes)

	return engine.Stop()
}

// measureLevels computes RMS and peak of one block, normalized to [0, 1].
func measureLevels(p []byte, f wave.Format) (rms, peak float64) {
	var sum float64
	var n int

	switch {
	case f.IsFloat() && f.BitsPerSample == 32:
		n = len(p) / 4
		for i := 0; i < n; i++ {
			bits := uint32(p[i*4]) | uint32(p[i*4+1])<<8 | uint32(p[i*4+2])<<16 | uint32(p[i*4+3])<<24
			v := math.Abs(float64(math.Float32frombits(bits)))
			sum += v * v
			if v > peak {
				peak = v
			}
		}
	case f.IsPCM() && f.BitsPerSample == 16:
		n = len(p) / 2
		for i := 0; i < n; i++ {
			s := int16(uint16(p[i*2]) | uint16(p[i*2+1])<<8)
			v := math.Abs(float64(s) / 32768)
			sum += v * v
			if v > peak {
				peak = v
			}
		}
	default:
		return 0, 0
	}

	if n == 0 {
		return 0, 0
	}
	return math.Sqrt(sum / float64(n)), peak
}
