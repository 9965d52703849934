// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/jeranaias/kbtasks/internal/api"
	"github.com/jeranaias/kbtasks/internal/config"
	"github.com/jeranaias/kbtasks/internal/tasks"
)

// Env carries what every client command needs.
type Env struct {
	Client *api.Client
	Out    io.Writer
	Width  int
	JSON   bool
	Quiet  bool
	// TTY enables screen redraws in watch
	TTY bool

	addr string
}

// NewEnv builds a command environment. Flags win over config values.
func NewEnv(args Args, cfg *config.Config) *Env {
	addr := args.Addr
	if addr == "" && cfg != nil {
		addr = cfg.Server.Addr
	}
	if addr == "" {
		addr = api.DefaultAddr
	}
	token := args.Token
	if token == "" && cfg != nil {
		token = cfg.Server.AuthToken
	}

	return &Env{
		Client: api.NewClient(addr).WithToken(token),
		Out:    os.Stdout,
		Width:  GetTerminalWidth(),
		JSON:   args.JSON,
		Quiet:  args.Quiet,
		TTY:    IsStdoutTTY(),
		addr:   addr,
	}
}

// wrap turns transport failures into ServerUnavailableError.
func (e *Env) wrap(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ServerUnavailableError{Addr: e.addr, Err: err}
	}
	return err
}

func (e *Env) printf(format string, a ...interface{}) {
	if e.Quiet {
		return
	}
	fmt.Fprintf(e.Out, format, a...)
}

// resolveID expands a unique ID prefix to the full task ID.
func (e *Env) resolveID(ctx context.Context, prefix string) (string, error) {
	list, err := e.Client.ListTasks(ctx)
	if err != nil {
		return "", e.wrap(err)
	}
	var matches []string
	for _, t := range list.Tasks {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("task %q: %w", prefix, tasks.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", usageErrorf("task ID %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// taskArg parses the single task-ID argument of a command.
func (e *Env) taskArg(ctx context.Context, raw []string, usage string) (string, error) {
	p := NewArgParser(raw)
	prefix, err := p.requirePositional(0, "task ID", usage)
	if err != nil {
		return "", err
	}
	return e.resolveID(ctx, prefix)
}

// =============================================================================
// ADD
// =============================================================================

const addUsage = "kbtasks add doc|kb <id> | kbtasks add crawl <url> --kb <id>"

// crawlBools are the add flags that never take a value.
var crawlBools = []string{"ai", "force"}

// HandleAdd queues a task.
func (e *Env) HandleAdd(ctx context.Context, raw []string) error {
	p := NewArgParser(raw, crawlBools...)
	kind, err := p.requirePositional(0, "task kind", addUsage)
	if err != nil {
		return err
	}
	data, err := buildData(kind, p)
	if err != nil {
		return err
	}
	if err := data.Validate(); err != nil {
		return &UsageError{Message: err.Error()}
	}

	t, err := e.Client.AddTask(ctx, p.Flag("title"), data)
	if err != nil {
		return e.wrap(err)
	}
	if e.JSON {
		return NewJSONResponse("add", t).Write(e.Out)
	}
	e.printf("%s %s %s\n", SuccessStyle.Render("Queued"), t.ShortID(), t.Title)
	return nil
}

// buildData turns add arguments into a task payload.
func buildData(kind string, p *ArgParser) (tasks.Data, error) {
	operator := p.Flag("operator")
	switch strings.ToLower(kind) {
	case "doc", "document", string(tasks.TypeEmbedDocument):
		id, err := p.requirePositional(1, "document ID", "kbtasks add doc <document-id>")
		if err != nil {
			return nil, err
		}
		return tasks.EmbedDocumentData{DocumentID: id, OperatorID: operator}, nil

	case "kb", "knowledge-base", string(tasks.TypeEmbedKnowledgeBase):
		id, err := p.requirePositional(1, "knowledge base ID", "kbtasks add kb <kb-id>")
		if err != nil {
			return nil, err
		}
		return tasks.EmbedKnowledgeBaseData{KnowledgeBaseID: id, OperatorID: operator}, nil

	case "crawl", string(tasks.TypeCrawlWebpage):
		u, err := p.requirePositional(1, "URL", "kbtasks add crawl <url> --kb <kb-id>")
		if err != nil {
			return nil, err
		}
		depth, err := p.FlagInt("depth", 0)
		if err != nil {
			return nil, err
		}
		pages, err := p.FlagInt("pages", 0)
		if err != nil {
			return nil, err
		}
		return tasks.CrawlWebpageData{
			URL:              u,
			Mode:             p.Flag("mode"),
			KnowledgeBaseID:  p.Flag("kb"),
			OperatorID:       operator,
			SourceLabel:      p.Flag("label"),
			MaxDepth:         depth,
			MaxPages:         pages,
			UseAI:            p.BoolFlag("ai"),
			ExtractionMode:   p.Flag("extraction-mode"),
			ExtractionPrompt: p.Flag("prompt"),
			Preset:           p.Flag("preset"),
			CSSSelector:      p.Flag("selector"),
			ExcludedSelector: p.Flag("exclude"),
			ForceReanalyze:   p.BoolFlag("force"),
			WebhookURL:       p.Flag("webhook"),
		}, nil
	}
	return nil, usageErrorf("unknown task kind %q\nUsage: %s", kind, addUsage)
}

// =============================================================================
// LIST / SHOW / WATCH
// =============================================================================

// HandleList prints the queue. Finished tasks are hidden unless --all.
func (e *Env) HandleList(ctx context.Context, raw []string) error {
	p := NewArgParser(raw, "all", "a")
	all := p.BoolFlag("all", "a")

	var only tasks.Status
	if s := p.Flag("status"); s != "" {
		only = tasks.Status(strings.ToLower(s))
		if !only.Valid() {
			return usageErrorf("unknown status %q", s)
		}
	}

	resp, err := e.Client.ListTasks(ctx)
	if err != nil {
		return e.wrap(err)
	}

	shown := make([]tasks.Task, 0, len(resp.Tasks))
	hidden := 0
	for _, t := range resp.Tasks {
		switch {
		case only != "":
			if t.Status != only {
				continue
			}
		case !all && (t.Status == tasks.StatusCompleted || t.Status == tasks.StatusCancelled):
			hidden++
			continue
		}
		shown = append(shown, t)
	}

	if e.JSON {
		return NewJSONResponse("list", api.TaskListResponse{Tasks: shown, Counts: resp.Counts}).Write(e.Out)
	}
	fmt.Fprint(e.Out, RenderTaskTable(shown, e.Width))
	if !e.Quiet {
		fmt.Fprintln(e.Out, RenderSummary(resp.Counts))
		if hidden > 0 {
			fmt.Fprintln(e.Out, DimStyle.Render(fmt.Sprintf("%d finished tasks hidden (use --all)", hidden)))
		}
	}
	return nil
}

// HandleShow prints one task in full.
func (e *Env) HandleShow(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks show <id>")
	if err != nil {
		return err
	}
	t, err := e.Client.GetTask(ctx, id)
	if err != nil {
		return e.wrap(err)
	}
	if e.JSON {
		return NewJSONResponse("show", t).Write(e.Out)
	}
	fmt.Fprint(e.Out, RenderTaskDetail(t))
	return nil
}

// HandleWatch follows the queue until ctx is cancelled. A terminal gets a
// redrawn table, --json gets one task list per line, anything else gets
// one summary line per change.
func (e *Env) HandleWatch(ctx context.Context) error {
	err := e.Client.Watch(ctx, func(list []tasks.Task) error {
		switch {
		case e.JSON:
			return writeNDJSON(e.Out, list)
		case e.TTY:
			fmt.Fprint(e.Out, clearScreen)
			fmt.Fprintln(e.Out, TitleStyle.Render("kbtasks")+" "+DimStyle.Render(e.Client.BaseURL()))
			fmt.Fprintln(e.Out, RenderSeparator(e.Width))
			fmt.Fprint(e.Out, RenderTaskTable(list, e.Width))
			fmt.Fprintln(e.Out, RenderSummary(countStatuses(list)))
		default:
			fmt.Fprintln(e.Out, RenderSummary(countStatuses(list)))
		}
		return nil
	})
	return e.wrap(err)
}

func countStatuses(list []tasks.Task) map[tasks.Status]int {
	counts := make(map[tasks.Status]int, len(tasks.Statuses))
	for _, t := range list {
		counts[t.Status]++
	}
	return counts
}

// =============================================================================
// ACTIONS
// =============================================================================

// HandleCancel cancels a pending or running task.
func (e *Env) HandleCancel(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks cancel <id>")
	if err != nil {
		return err
	}
	t, err := e.Client.CancelTask(ctx, id)
	if err != nil {
		return e.wrap(err)
	}
	return e.reportTask("cancel", "Cancelled", t)
}

// HandleRetry requeues a failed task.
func (e *Env) HandleRetry(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks retry <id>")
	if err != nil {
		return err
	}
	t, err := e.Client.RetryTask(ctx, id)
	if err != nil {
		return e.wrap(err)
	}
	return e.reportTask("retry", "Requeued", t)
}

// HandleRemove deletes a task, cancelling it first when active.
func (e *Env) HandleRemove(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks remove <id>")
	if err != nil {
		return err
	}
	if err := e.Client.RemoveTask(ctx, id); err != nil {
		return e.wrap(err)
	}
	return e.reportID("remove", "Removed", id)
}

// HandlePause pauses a running task's remote job.
func (e *Env) HandlePause(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks pause <id>")
	if err != nil {
		return err
	}
	if err := e.Client.PauseTask(ctx, id); err != nil {
		return e.wrap(err)
	}
	return e.reportID("pause", "Paused", id)
}

// HandleResume resumes a paused remote job.
func (e *Env) HandleResume(ctx context.Context, raw []string) error {
	id, err := e.taskArg(ctx, raw, "kbtasks resume <id>")
	if err != nil {
		return err
	}
	if err := e.Client.ResumeTask(ctx, id); err != nil {
		return e.wrap(err)
	}
	return e.reportID("resume", "Resumed", id)
}

// HandleClear removes completed tasks, or every task with --all --confirm.
func (e *Env) HandleClear(ctx context.Context, raw []string) error {
	p := NewArgParser(raw, "all", "confirm")
	all := p.BoolFlag("all")
	if all && !p.BoolFlag("confirm") {
		return usageErrorf("clearing every task cancels running work; add --confirm")
	}

	var (
		removed int
		err     error
	)
	if all {
		removed, err = e.Client.ClearAll(ctx)
	} else {
		removed, err = e.Client.ClearCompleted(ctx)
	}
	if err != nil {
		return e.wrap(err)
	}
	if e.JSON {
		return NewJSONResponse("clear", api.ClearResponse{Removed: removed}).Write(e.Out)
	}
	e.printf("%s %d tasks\n", SuccessStyle.Render("Removed"), removed)
	return nil
}

func (e *Env) reportTask(command, verb string, t tasks.Task) error {
	if e.JSON {
		return NewJSONResponse(command, t).Write(e.Out)
	}
	e.printf("%s %s %s\n", SuccessStyle.Render(verb), t.ShortID(), t.Title)
	return nil
}

func (e *Env) reportID(command, verb, id string) error {
	if e.JSON {
		return NewJSONResponse(command, map[string]string{"id": id}).Write(e.Out)
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	e.printf("%s %s\n", SuccessStyle.Render(verb), short)
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

// HandleConfig inspects or edits the config file at path.
func HandleConfig(w io.Writer, raw []string, cfg *config.Config, path string, jsonMode bool) error {
	p := NewArgParser(raw, "force")
	sub := p.Positional(0)
	if sub == "" {
		sub = "show"
	}

	switch sub {
	case "show":
		if jsonMode {
			return NewJSONResponse("config", cfg.Redacted()).Write(w)
		}
		fmt.Fprintln(w, DimStyle.Render("# "+path))
		fmt.Fprint(w, cfg.String())
		return nil

	case "path":
		if jsonMode {
			return NewJSONResponse("config", map[string]string{"path": path}).Write(w)
		}
		fmt.Fprintln(w, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return usageErrorf("%s already exists; use --force to overwrite", path)
		}
		if err := config.SaveToPath(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("Wrote"), path)
		return nil

	case "get":
		key, err := p.requirePositional(1, "key", "kbtasks config get <key>")
		if err != nil {
			return err
		}
		v, err := cfg.Redacted().Get(key)
		if err != nil {
			return &UsageError{Message: err.Error()}
		}
		if jsonMode {
			return NewJSONResponse("config", map[string]interface{}{key: v}).Write(w)
		}
		fmt.Fprintln(w, v)
		return nil

	case "set":
		key, err := p.requirePositional(1, "key", "kbtasks config set <key> <value>")
		if err != nil {
			return err
		}
		if p.PositionalCount() < 3 {
			return usageErrorf("missing value\nUsage: kbtasks config set <key> <value>")
		}
		value := p.Positional(2)
		next := cfg.Clone()
		if err := next.Set(key, value); err != nil {
			return &UsageError{Message: err.Error()}
		}
		if err := next.Validate(); err != nil {
			return &UsageError{Message: err.Error()}
		}
		if err := config.SaveToPath(next, path); err != nil {
			return err
		}
		*cfg = *next
		fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("Set"), key, value)
		return nil
	}
	return usageErrorf("unknown config command %q (show, path, init, get, set)", sub)
}
