package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"ttsapi/config"
)

// Checkpoint files the model directory must contain before the server will
// accept requests. Matches the upstream model distribution layout.
var requiredCheckpointFiles = []string{
	"bpe.model",
	"gpt.pth",
	"config.yaml",
	"s2mel.pth",
	"wav2vec2bert_stats.pt",
}

// Runner is an Engine backed by an external synthesis CLI. One subprocess is
// spawned per Synthesize call; the subprocess writes the output file itself.
type Runner struct {
	cfg       *config.Config
	extraArgs []string
	version   string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.TTSBin); err != nil {
		return nil, fmt.Errorf("tts binary not found or not in PATH: %s", cfg.TTSBin)
	}

	if err := validateModelDir(cfg.ModelDir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	extraArgs, err := SplitArgs(cfg.TTSExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateArgs(extraArgs); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		extraArgs: extraArgs,
	}
	r.version = probeVersion(cfg.TTSBin)
	return r, nil
}

func validateModelDir(modelDir string) error {
	if _, err := os.Stat(modelDir); err != nil {
		return fmt.Errorf("model directory does not exist: %s", modelDir)
	}
	for _, name := range requiredCheckpointFiles {
		path := filepath.Join(modelDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required model file missing: %s", path)
		}
	}
	return nil
}

// probeVersion asks the binary for its version once at startup. Not every
// build of the tool supports --version; an empty result means the configured
// fallback string is reported instead.
func probeVersion(bin string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		log.Printf("Version probe for %s failed: %v", bin, err)
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ModelVersion implements the Versioner capability.
func (r *Runner) ModelVersion() string {
	return r.version
}

// Synthesize runs the synthesis CLI for one task. It returns the subprocess
// failure (with the tail of the tool output) or nil; artifact verification
// is the task runner's job.
func (r *Runner) Synthesize(ctx context.Context, p Params, outputPath string) error {
	// 1. Check system resources before starting
	if err := r.checkResources(); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	// 2. Build the argument list
	args := r.buildArgs(p, outputPath)

	// 3. Execute with the configured inference timeout
	runCtx := ctx
	if r.cfg.TTSTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.TTSTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.cfg.TTSBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	log.Printf("Executing: %s %s", cmd.Path, strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		// Remove the (likely empty or partial) output file.
		os.Remove(outputPath)
		return fmt.Errorf("synthesis failed: %w: %s", err, tail(outputBuf.String(), 512))
	}
	return nil
}

func (r *Runner) buildArgs(p Params, outputPath string) []string {
	args := []string{
		"--model-dir", r.cfg.ModelDir,
		"--voice", p.PromptAudio,
		"--text", p.Text,
		"--output", outputPath,
		"--emo-weight", strconv.FormatFloat(p.EmoWeight, 'f', -1, 64),
		"--max-text-tokens-per-segment", strconv.Itoa(p.MaxTextTokensPerSegment),
	}

	if p.EmoAudioPrompt != "" {
		args = append(args, "--emo-audio", p.EmoAudioPrompt)
	}

	if len(p.EmoVector) > 0 {
		parts := make([]string, len(p.EmoVector))
		for i, v := range p.EmoVector {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		args = append(args, "--emo-vector", strings.Join(parts, ","))
	}

	if p.DoSample {
		args = append(args,
			"--do-sample",
			"--temperature", strconv.FormatFloat(p.Temperature, 'f', -1, 64),
			"--top-p", strconv.FormatFloat(p.TopP, 'f', -1, 64),
			"--repetition-penalty", strconv.FormatFloat(p.RepetitionPenalty, 'f', -1, 64),
		)
		if p.TopK > 0 {
			args = append(args, "--top-k", strconv.Itoa(p.TopK))
		}
	}

	return append(args, r.extraArgs...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// checkResources verifies that the host has enough free resources to start a
// new inference run. Zero thresholds disable the corresponding check.
func (r *Runner) checkResources() error {
	// CPU
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			log.Printf("Warning: could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	// Memory
	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			log.Printf("Warning: could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	// Disk
	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.cfg.OutputDir)
		if err != nil {
			log.Printf("Warning: could not get disk usage for %s: %v", r.cfg.OutputDir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
