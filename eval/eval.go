package eval

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/linanwx/supportbot/agent"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/provider"
)

// Config is one model configuration under evaluation.
type Config struct {
	Name    string
	Gateway provider.Gateway
	Context agent.ContextGenerator
	// TerminalTool is named in the system prompt; defaults to finalize.
	TerminalTool string
}

// Result is the outcome of one test under one config.
type Result struct {
	Config   string             `json:"config"`
	Context  string             `json:"context"`
	Scenario string             `json:"scenario"`
	Test     string             `json:"test"`
	Expected provider.ToolCall  `json:"expected"`
	Actual   *provider.ToolCall `json:"actual,omitempty"`
	Score    Score              `json:"score"`
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
	Latency  time.Duration      `json:"latency"`
}

// Summary is a pass count.
type Summary struct {
	Name   string `json:"name"`
	Passed int    `json:"passed"`
	Total  int    `json:"total"`
}

// Report aggregates results per scenario and per config, in first-seen order.
type Report struct {
	Results   []Result  `json:"results"`
	Scenarios []Summary `json:"scenarios"`
	Configs   []Summary `json:"configs"`
}

// Passed returns the total pass count.
func (r Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// Run scores every test of every scenario under every config. Each test gets
// a fresh registry and exactly one gateway call. Nothing is persisted.
func Run(ctx context.Context, scenarios []Scenario, configs []Config) Report {
	var report Report
	scenarioIdx := map[string]int{}
	configIdx := map[string]int{}

	tally := func(list *[]Summary, idx map[string]int, name string, ok bool) {
		i, seen := idx[name]
		if !seen {
			i = len(*list)
			idx[name] = i
			*list = append(*list, Summary{Name: name})
		}
		(*list)[i].Total++
		if ok {
			(*list)[i].Passed++
		}
	}

	for _, cfg := range configs {
		for _, sc := range scenarios {
			for _, t := range sc.Tests {
				res := runTest(ctx, cfg, sc, t)
				report.Results = append(report.Results, res)
				tally(&report.Scenarios, scenarioIdx, sc.Name, res.Success)
				tally(&report.Configs, configIdx, cfg.Name, res.Success)
			}
		}
	}
	return report
}

func runTest(ctx context.Context, cfg Config, sc Scenario, t Test) Result {
	gen := cfg.Context
	if gen == nil {
		gen = agent.TranscriptContext{}
	}
	res := Result{
		Config:   cfg.Name,
		Context:  gen.Name(),
		Scenario: sc.Name,
		Test:     t.Name,
		Expected: t.Expected,
	}

	reg, err := t.Registry()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if cfg.Gateway == nil {
		res.Error = "no gateway configured"
		return res
	}

	system := agent.BuildSystemPrompt(reg, agent.PromptOptions{TerminalTool: cfg.TerminalTool})
	transcript := gen.Generate(t.Events)

	start := time.Now()
	decision, err := cfg.Gateway.NextToolCall(ctx, system, transcript)
	res.Latency = time.Since(start)
	if err != nil {
		logger.Warn("eval gateway error", "config", cfg.Name, "scenario", sc.Name, "test", t.Name, "err", err)
		res.Error = err.Error()
		return res
	}

	actual := decision.ToolCall
	res.Actual = &actual
	res.Score = ScoreCall(actual, t.Expected)
	res.Success = res.Score.Success()

	logger.Info(
		"eval result",
		"config", cfg.Name,
		"scenario", sc.Name,
		"test", t.Name,
		"expected", t.Expected.Name,
		"actual", actual.Name,
		"success", res.Success,
		"exactArgs", res.Score.ExactArgs,
	)
	return res
}

// Write prints a human-readable report.
func (r Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONFIG\tCONTEXT\tSCENARIO\tTEST\tEXPECTED\tACTUAL\tNAME\tKEYS\tEXACT\tRESULT")
	for _, res := range r.Results {
		actual := "-"
		if res.Actual != nil {
			actual = res.Actual.Name
		}
		verdict := "pass"
		if !res.Success {
			verdict = "FAIL"
			if res.Error != "" {
				verdict = "ERROR: " + res.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%t\t%t\t%s\n",
			res.Config, res.Context, res.Scenario, res.Test, res.Expected.Name, actual,
			res.Score.NameMatch, res.Score.ArgKeysSubset, res.Score.ExactArgs, verdict)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, s := range r.Scenarios {
		fmt.Fprintf(w, "scenario %s: %d/%d passed\n", s.Name, s.Passed, s.Total)
	}
	for _, s := range r.Configs {
		fmt.Fprintf(w, "config %s: %d/%d passed\n", s.Name, s.Passed, s.Total)
	}
	_, err := fmt.Fprintf(w, "total: %d/%d passed\n", r.Passed(), len(r.Results))
	return err
}
