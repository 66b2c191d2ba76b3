// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command: configuration, provider and index checks.
//
// Command: doctor
// Aliases: diag
//
// Health Checks Performed:
//   1. Config Valid      - Settings and model file load and validate
//   2. Model Entry       - The named model entry exists in the model file
//   3. Provider          - Ollama answers and has the model, or an API key is set
//   4. Documents         - The documents directory exists
//   5. Index             - The vector index exists and matches the embedder
//   6. Log Directory     - app.log can be written
//   7. Session Storage   - The sessions directory is writable (when configured)
//
// Exit Codes:
//   0   No check failed
//   1   One or more checks failed

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/ragchat/internal/config"
	"github.com/jeranaias/ragchat/internal/embedding"
	"github.com/jeranaias/ragchat/internal/index"
	"github.com/jeranaias/ragchat/internal/ollama"
	"github.com/jeranaias/ragchat/internal/retriever"
	"github.com/jeranaias/ragchat/internal/storage"
)

// providerCheckTimeout bounds the provider reachability check.
const providerCheckTimeout = 3 * time.Second

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the lower-case name used in JSON output.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the styled marker for the check status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"-"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"` // Suggested fix command or instruction
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s %s", c.Status.Symbol(), RenderLabel(c.Name, 18), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + DimStyle.Render("       -> "+c.Fix)
	}
	return result
}

// DoctorCheck is the JSON form of a HealthCheck.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary counts check results.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the JSON shape of the doctor command.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// =============================================================================
// DOCTOR COMMAND
// =============================================================================

// HandleDoctor runs the health checks and reports them.
func HandleDoctor(ctx context.Context, args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	path := args.ConfigPath
	if path == "" {
		path = config.SettingsPath()
	}
	checks := runAllChecks(ctx, cfg, path, err)
	return reportChecks(checks, args, w)
}

func reportChecks(checks []*HealthCheck, args Args, w io.Writer) error {
	var sum DoctorSummary
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			sum.Passed++
		case CheckWarn:
			sum.Warned++
		case CheckFail:
			sum.Failed++
		}
	}
	sum.Healthy = sum.Failed == 0

	var failErr error
	if sum.Failed > 0 {
		failErr = fmt.Errorf("%d health check(s) failed", sum.Failed)
	}

	if args.JSON {
		data := DoctorData{Checks: make([]DoctorCheck, 0, len(checks)), Summary: sum}
		for _, c := range checks {
			data.Checks = append(data.Checks, DoctorCheck{Name: c.Name, Status: c.Status.String(), Message: c.Message, Fix: c.Fix})
		}
		resp := NewJSONResponse("doctor", data)
		if failErr != nil {
			msg := failErr.Error()
			resp.Success = false
			resp.Error = &msg
		}
		if err := resp.Fprint(w); err != nil {
			return err
		}
		return failErr
	}

	fmt.Fprintln(w, TitleStyle.Render("ragchat doctor"))
	fmt.Fprintln(w, RenderSeparator())
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w, RenderSeparator())
	summary := fmt.Sprintf("%d passed", sum.Passed)
	if sum.Warned > 0 {
		summary += ", " + WarningStyle.Render(fmt.Sprintf("%d warning", sum.Warned))
	}
	if sum.Failed > 0 {
		summary += ", " + ErrorStyle.Render(fmt.Sprintf("%d failed", sum.Failed))
	}
	fmt.Fprintln(w, summary)
	return failErr
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs every check. When the configuration failed to load
// only that failure is reported.
func runAllChecks(ctx context.Context, cfg *config.Config, path string, cfgErr error) []*HealthCheck {
	if cfgErr != nil {
		return []*HealthCheck{{
			Name:    "Config Valid",
			Status:  CheckFail,
			Message: cfgErr.Error(),
			Fix:     configFix(cfgErr),
		}}
	}

	return []*HealthCheck{
		{Name: "Config Valid", Status: CheckPass, Message: fmt.Sprintf("%s (%s)", path, cfg.Provider.Kind)},
		checkModelEntry(cfg),
		checkProvider(ctx, cfg),
		checkDocsDir(cfg),
		checkIndex(ctx, cfg),
		checkWritableDir("Log Directory", cfg.Logging.Dir),
		checkSessions(cfg),
	}
}

func configFix(err error) string {
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		return "Set OPENAI_API_KEY or AZURE_OPENAI_API_KEY"
	case errors.Is(err, config.ErrModelFileNotFound):
		return "Create the model file or set MODEL_CONFIG_PATH"
	}
	return "Fix the settings file named by RAGCHAT_CONFIG (default ragchat.toml)"
}

func checkModelEntry(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Model Entry"}
	if cfg.ModelFallback {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%q not in %s, using built-in %s", cfg.Model.Name, cfg.Model.Path, cfg.Chat.ChatModel.Model)
		check.Fix = fmt.Sprintf("Add models.%s to %s or set MODEL_CONFIG_NAME", cfg.Model.Name, cfg.Model.Path)
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("%s from %s", cfg.Chat.ChatModel.Model, cfg.Model.Path)
	return check
}

func checkProvider(ctx context.Context, cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Provider"}

	if cfg.Provider.Kind != config.ProviderOllama {
		check.Status = CheckPass
		check.Message = fmt.Sprintf("%s API key configured (%s)", cfg.Provider.Kind, cfg.Provider.BaseURL)
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
	defer cancel()
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Provider.BaseURL, Timeout: providerCheckTimeout})
	if err := client.CheckRunning(ctx); err != nil {
		check.Status = CheckFail
		check.Message = "Ollama not reachable at " + cfg.Provider.BaseURL
		check.Fix = "Run: ollama serve"
		return check
	}

	modelName := cfg.Chat.ChatModel.Model
	exists, err := client.ModelExists(ctx, modelName)
	switch {
	case err != nil:
		check.Status = CheckWarn
		check.Message = "Ollama running, could not list models: " + err.Error()
	case !exists:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Ollama running, model %s not pulled", modelName)
		check.Fix = "Run: ollama pull " + modelName
	default:
		check.Status = CheckPass
		check.Message = fmt.Sprintf("Ollama running with %s", modelName)
	}
	return check
}

func checkDocsDir(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Documents"}
	info, err := os.Stat(cfg.Index.DocsDir)
	if err != nil || !info.IsDir() {
		check.Status = CheckWarn
		check.Message = "directory not found: " + cfg.Index.DocsDir
		check.Fix = "Create it and add .md or .txt files"
		return check
	}
	check.Status = CheckPass
	check.Message = cfg.Index.DocsDir
	return check
}

func checkIndex(ctx context.Context, cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Index"}

	embedder, err := embedding.New(cfg, nil)
	if err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		return check
	}
	r, err := retriever.New(embedder, retriever.Options{IndexDir: cfg.Index.Dir})
	if err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		if errors.Is(err, index.ErrEmbedderMismatch) {
			check.Fix = "Run: ragchat ingest --rebuild"
		}
		return check
	}
	defer r.Close()

	stats, ok, err := r.Stats(ctx)
	switch {
	case err != nil:
		check.Status = CheckFail
		check.Message = err.Error()
	case !ok:
		check.Status = CheckWarn
		check.Message = "no index in " + cfg.Index.Dir
		check.Fix = "Run: ragchat ingest"
	default:
		check.Status = CheckPass
		check.Message = fmt.Sprintf("%d documents, %d chunks, %s, %s",
			stats.Documents, stats.Chunks, stats.Embedder, formatBytes(stats.DatabaseSize))
	}
	return check
}

func checkWritableDir(name, dir string) *HealthCheck {
	check := &HealthCheck{Name: name}
	if err := os.MkdirAll(dir, 0700); err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		return check
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		check.Status = CheckFail
		check.Message = "not writable: " + dir
		check.Fix = "Check permissions on " + dir
		return check
	}
	probe := f.Name()
	f.Close()
	os.Remove(probe)

	check.Status = CheckPass
	check.Message = filepath.Clean(dir)
	return check
}

func checkSessions(cfg *config.Config) *HealthCheck {
	if cfg.Session.Dir == "" {
		return &HealthCheck{Name: "Session Storage", Status: CheckPass, Message: "in memory only"}
	}
	check := checkWritableDir("Session Storage", cfg.Session.Dir)
	if check.Status != CheckPass {
		return check
	}
	store, err := storage.NewStore(cfg.Session.Dir, cfg.Session.MaxStored)
	if err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		return check
	}
	metas, err := store.List()
	if err != nil {
		check.Status = CheckWarn
		check.Message = err.Error()
		return check
	}
	check.Message = fmt.Sprintf("%s (%d stored)", check.Message, len(metas))
	return check
}
