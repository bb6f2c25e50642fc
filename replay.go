package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"order-monitor/config"
	"order-monitor/dispatcher"
	"order-monitor/engine"
	"order-monitor/logger"
	"order-monitor/transport"
)

// maxReplayLine bounds one recorded message; order lists can be large.
const maxReplayLine = 8 << 20

// replayResult is what a replay prints: the final snapshot plus what the
// dispatcher made of the input.
type replayResult struct {
	Lines      int              `json:"lines"`
	Skipped    int              `json:"skipped"`
	Dispatcher dispatcher.Stats `json:"dispatcher"`
	Snapshot   *engine.Snapshot `json:"snapshot"`
}

func replayCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := "production"
	if c.Bool("verbose") {
		level = "development"
	}
	logger.Initialize(level)
	defer logger.Sync()

	in := io.Reader(os.Stdin)
	if path := c.String("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer f.Close()
		in = f
	}

	res, err := replay(in, cfg.EngineConfig(), logger.Log)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	if c.Bool("pretty") {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

// replay runs every recorded line through a fresh dispatcher and engine on
// the calling goroutine. Blank lines and lines starting with '#' are
// ignored; malformed envelopes are skipped and logged.
func replay(r io.Reader, cfg engine.Config, log *zap.Logger) (*replayResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	eng := engine.New(cfg, log.Named("engine"))
	d := dispatcher.New(eng, log.Named("dispatcher"), dispatcher.WithLocation(cfg.Location))

	res := &replayResult{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxReplayLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		res.Lines++
		msg, err := transport.DecodeEnvelope(line)
		if err != nil {
			res.Skipped++
			log.Warn("skipping recorded line", zap.Int("line", res.Lines), zap.Error(err))
			continue
		}
		_ = d.Dispatch(msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}

	res.Dispatcher = d.Stats()
	res.Snapshot = eng.Snapshot()
	return res, nil
}
