// Package dispatch launches the external inspection job and bridges its
// line-oriented progress output back to the operator's chat channel
// without ever blocking the webhook response path.
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"inspectbot/internal/domain"
	"inspectbot/internal/history"
	"inspectbot/internal/metrics"
)

// ParamsEnvVar is the side channel the job reads its parameters from.
const ParamsEnvVar = "DYNAMIC_PARAMS"

// Config describes the external job process and the relay behavior.
type Config struct {
	Command        string
	Args           []string
	Dir            string // working dir; output paths resolve against it
	ProgressMarker string
	AllClearMarker string
	SummaryPath    string
	ArtifactPaths  []string
	QueueSize      int
	Timeout        time.Duration // 0 = unbounded
	TranscriptDir  string        // optional local transcript location
}

// Dispatcher runs jobs asynchronously. One Dispatcher serves all
// participants; concurrent jobs proceed fully independently.
type Dispatcher struct {
	cfg     Config
	history *history.Store // nil disables run recording
	logger  *slog.Logger
}

func NewDispatcher(cfg Config, hist *history.Store, logger *slog.Logger) *Dispatcher {
	if cfg.ProgressMarker == "" {
		cfg.ProgressMarker = "[PROGRESS]"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, history: hist, logger: logger}
}

// Dispatch launches the job for one participant and returns immediately;
// the caller's webhook response must not wait on the job. Progress,
// summary, artifacts and errors all flow through m.
func (d *Dispatcher) Dispatch(ctx context.Context, m domain.Messenger, participantID string, params domain.JobParameters) {
	go d.run(ctx, m, participantID, params)
}

func (d *Dispatcher) run(ctx context.Context, m domain.Messenger, participantID string, params domain.JobParameters) {
	metrics.JobsDispatched.Inc()
	metrics.RunningJobs.Inc()
	defer metrics.RunningJobs.Dec()
	start := time.Now()
	defer func() { metrics.JobDuration.Observe(time.Since(start).Seconds()) }()

	runID := d.startRun(ctx, m.Platform(), participantID, params)
	log := d.logger.With("run", runID, "participant", participantID, "platform", m.Platform())
	log.Info("dispatching inspection job", "flow", params.IntegrationFlow, "status", params.Status.String())

	d.sendText(ctx, m, participantID, "Command received, starting the inspection job...")

	jctx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		d.fail(ctx, m, participantID, runID, fmt.Errorf("encode parameters: %w", err))
		return
	}

	cmd := exec.CommandContext(jctx, d.cfg.Command, d.cfg.Args...)
	cmd.Dir = d.cfg.Dir
	cmd.Env = append(os.Environ(), ParamsEnvVar+"="+string(paramsJSON))

	// One pipe for stdout and stderr so error output is never missed.
	pr, pw, err := os.Pipe()
	if err != nil {
		d.fail(ctx, m, participantID, runID, fmt.Errorf("create pipe: %w", err))
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		d.fail(ctx, m, participantID, runID, fmt.Errorf("start job: %w", err))
		return
	}
	pw.Close() // parent's copy; the child holds its own

	transcript := d.openTranscript(log)
	if transcript != nil {
		defer transcript.Close()
	}

	// Producer/consumer with a bounded queue: a slow chat send must not
	// stall reading the job's output, so a full queue drops the line.
	progress := make(chan string, d.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for line := range progress {
			if err := m.SendText(ctx, participantID, line); err != nil {
				log.Warn("progress delivery failed", "err", err)
				continue
			}
			metrics.ProgressRelayed.Inc()
		}
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		d.writeTranscript(transcript, line)
		log.Debug("job output", "line", line)

		if strings.Contains(line, d.cfg.ProgressMarker) {
			msg := strings.TrimSpace(strings.ReplaceAll(line, d.cfg.ProgressMarker, ""))
			select {
			case progress <- msg:
			default:
				metrics.ProgressDropped.Inc()
				log.Warn("progress queue full, dropping line")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("job output read error", "err", err)
	}
	pr.Close()
	close(progress)
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		log.Warn("job exited abnormally", "err", waitErr)
		d.sendText(ctx, m, participantID, "The inspection job exited with an error: "+waitErr.Error())
	}

	d.deliverOutputs(ctx, m, participantID, log)

	if waitErr != nil {
		metrics.JobsFailed.Inc()
		d.finishRun(runID, history.RunFailed, waitErr.Error())
		return
	}
	d.finishRun(runID, history.RunDone, "")
	log.Info("inspection job finished", "elapsed", time.Since(start).Round(time.Second).String())
}

// deliverOutputs sends the summary (tone chosen by the all-clear marker)
// and uploads whichever artifact files the job produced.
func (d *Dispatcher) deliverOutputs(ctx context.Context, m domain.Messenger, participantID string, log *slog.Logger) {
	summaryPath := d.resolve(d.cfg.SummaryPath)
	if content, err := os.ReadFile(summaryPath); err == nil && len(content) > 0 {
		tone := domain.ToneAlert
		if d.cfg.AllClearMarker != "" && strings.Contains(string(content), d.cfg.AllClearMarker) {
			tone = domain.ToneGood
		}
		if err := m.SendRichSummary(ctx, participantID, string(content), tone); err != nil {
			log.Warn("summary delivery failed", "err", err)
			d.sendText(ctx, m, participantID, string(content))
		}
	} else {
		d.sendText(ctx, m, participantID, "Inspection finished.")
	}

	for _, artifact := range d.cfg.ArtifactPaths {
		path := d.resolve(artifact)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		handle, err := m.UploadFile(ctx, path)
		if err != nil || handle == "" {
			log.Warn("artifact upload failed", "path", path, "err", err)
			d.sendText(ctx, m, participantID, "The inspection finished, but the report attachment failed to upload.")
			continue
		}
		if err := m.SendFile(ctx, participantID, handle); err != nil {
			log.Warn("artifact send failed", "path", path, "err", err)
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, m domain.Messenger, participantID, runID string, err error) {
	metrics.JobsFailed.Inc()
	d.logger.Error("inspection job failed", "run", runID, "participant", participantID, "err", err)
	d.sendText(ctx, m, participantID, "The inspection job could not run: "+err.Error())
	d.finishRun(runID, history.RunFailed, err.Error())
}

func (d *Dispatcher) sendText(ctx context.Context, m domain.Messenger, participantID, text string) {
	if err := m.SendText(ctx, participantID, text); err != nil {
		d.logger.Warn("outbound text failed", "participant", participantID, "err", err)
	}
}

func (d *Dispatcher) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.cfg.Dir, path)
}

func (d *Dispatcher) startRun(ctx context.Context, platform, participantID string, params domain.JobParameters) string {
	if d.history == nil {
		return ""
	}
	id, err := d.history.StartRun(ctx, platform, participantID, params)
	if err != nil {
		d.logger.Warn("cannot record job run", "err", err)
		return ""
	}
	return id
}

func (d *Dispatcher) finishRun(runID, status, errText string) {
	if d.history == nil || runID == "" {
		return
	}
	if err := d.history.FinishRun(context.Background(), runID, status, errText); err != nil {
		d.logger.Warn("cannot finish job run record", "run", runID, "err", err)
	}
}

func (d *Dispatcher) openTranscript(log *slog.Logger) *os.File {
	if d.cfg.TranscriptDir == "" {
		return nil
	}
	if err := os.MkdirAll(d.cfg.TranscriptDir, 0o755); err != nil {
		log.Warn("cannot create transcript dir", "err", err)
		return nil
	}
	name := filepath.Join(d.cfg.TranscriptDir, "job_"+time.Now().Format("20060102_150405")+".log")
	f, err := os.Create(name)
	if err != nil {
		log.Warn("cannot create transcript file", "err", err)
		return nil
	}
	return f
}

func (d *Dispatcher) writeTranscript(f *os.File, line string) {
	if f == nil {
		return
	}
	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), line)
}
