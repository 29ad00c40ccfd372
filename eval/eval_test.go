package eval

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linanwx/supportbot/agent"
	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/tools"
)

func fixedGateway(call provider.ToolCall) provider.Gateway {
	return provider.GatewayFunc(func(context.Context, string, string) (*provider.Decision, error) {
		return &provider.Decision{ToolCall: call}, nil
	})
}

func loginScenario(t *testing.T) Scenario {
	t.Helper()
	scs, err := BuiltinScenarios()
	if err != nil {
		t.Fatalf("BuiltinScenarios: %v", err)
	}
	for _, sc := range scs {
		if sc.Name == "login-failure" {
			return sc
		}
	}
	t.Fatal("login-failure scenario missing")
	return Scenario{}
}

func TestArgKeysSubsetIsAsymmetric(t *testing.T) {
	expected := provider.ToolCall{Name: "x", Args: map[string]any{"a": 1, "b": 2}}

	missingExpectedKey := provider.ToolCall{Name: "x", Args: map[string]any{"a": 1}}
	if !ArgKeysSubset(missingExpectedKey, expected) {
		t.Error("actual {a} should pass against expected {a, b}")
	}
	if ExactArgs(missingExpectedKey, expected) {
		t.Error("exact args should not match")
	}
	if !ScoreCall(missingExpectedKey, expected).Success() {
		t.Error("success should not require exact args")
	}

	extraKey := provider.ToolCall{Name: "x", Args: map[string]any{"a": 1, "c": 3}}
	if ArgKeysSubset(extraKey, expected) {
		t.Error("actual with key c should fail")
	}
}

func TestExactArgsNormalizesNumbers(t *testing.T) {
	a := provider.ToolCall{Args: map[string]any{"limit": float64(5), "query": "q"}}
	b := provider.ToolCall{Args: map[string]any{"limit": 5, "query": "q"}}
	if !ExactArgs(a, b) {
		t.Error("float64(5) and int 5 should compare equal")
	}
	if !ExactArgs(provider.ToolCall{}, provider.ToolCall{Args: map[string]any{}}) {
		t.Error("nil and empty args should compare equal")
	}
}

func TestBuiltinLoginScenarioShape(t *testing.T) {
	sc := loginScenario(t)
	if len(sc.Tests) != 1 {
		t.Fatalf("tests = %d", len(sc.Tests))
	}
	test := sc.Tests[0]
	if len(test.Events) != 2 || test.Events[0].Type != event.TypeThreadStarted || test.Events[1].Type != event.TypeEmailProcessed {
		t.Fatalf("events = %+v", test.Events)
	}
	var processed event.EmailProcessed
	if err := test.Events[1].ParseData(&processed); err != nil || processed.Urgency != "high" {
		t.Errorf("email_processed = %+v, %v", processed, err)
	}
	reg, err := test.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 8 {
		t.Errorf("registry has %d tools, want the 8 support tools", reg.Len())
	}
}

func TestLoginScenarioMatchingCallSucceeds(t *testing.T) {
	sc := loginScenario(t)
	gw := fixedGateway(provider.ToolCall{
		Name: tools.SearchKnowledgeBase,
		Args: map[string]any{"query": "login credentials error authentication failed", "limit": float64(5)},
	})

	report := Run(context.Background(), []Scenario{sc}, []Config{{Name: "mock", Gateway: gw}})
	if len(report.Results) != 1 {
		t.Fatalf("results = %d", len(report.Results))
	}
	res := report.Results[0]
	if !res.Success || !res.Score.NameMatch || !res.Score.ArgKeysSubset || !res.Score.ExactArgs {
		t.Errorf("result = %+v, want full success", res)
	}
	if report.Passed() != 1 {
		t.Errorf("passed = %d", report.Passed())
	}
}

func TestLoginScenarioWrongToolFails(t *testing.T) {
	sc := loginScenario(t)
	gw := fixedGateway(provider.ToolCall{
		Name: tools.UpdateThreadUrgency,
		Args: map[string]any{"urgency": "high"},
	})

	report := Run(context.Background(), []Scenario{sc}, []Config{{Name: "mock", Gateway: gw}})
	res := report.Results[0]
	if res.Success || res.Score.NameMatch {
		t.Errorf("result = %+v, want name mismatch failure", res)
	}
	if report.Scenarios[0].Passed != 0 || report.Scenarios[0].Total != 1 {
		t.Errorf("scenario summary = %+v", report.Scenarios[0])
	}
}

func TestRunPerConfigAggregationAndErrors(t *testing.T) {
	sc := loginScenario(t)
	var prompts []string
	good := provider.GatewayFunc(func(_ context.Context, system, transcript string) (*provider.Decision, error) {
		prompts = append(prompts, system, transcript)
		return &provider.Decision{ToolCall: provider.ToolCall{Name: tools.SearchKnowledgeBase, Args: map[string]any{"query": "login"}}}, nil
	})
	broken := provider.GatewayFunc(func(context.Context, string, string) (*provider.Decision, error) {
		return nil, provider.ErrResponseNotJSON
	})

	report := Run(context.Background(), []Scenario{sc}, []Config{
		{Name: "good", Gateway: good, Context: agent.CompactContext{}},
		{Name: "broken", Gateway: broken},
	})

	if len(report.Configs) != 2 {
		t.Fatalf("configs = %+v", report.Configs)
	}
	if report.Configs[0].Passed != 1 || report.Configs[1].Passed != 0 {
		t.Errorf("config summaries = %+v", report.Configs)
	}
	if report.Scenarios[0].Total != 2 || report.Scenarios[0].Passed != 1 {
		t.Errorf("scenario summary = %+v", report.Scenarios[0])
	}
	if report.Results[0].Context != "compact" || report.Results[1].Context != "transcript" {
		t.Errorf("contexts = %s, %s", report.Results[0].Context, report.Results[1].Context)
	}
	if !strings.Contains(report.Results[1].Error, "not a JSON object") {
		t.Errorf("error = %q", report.Results[1].Error)
	}
	if len(prompts) != 2 || !strings.Contains(prompts[0], tools.SearchKnowledgeBase) || !strings.Contains(prompts[1], "authentication failed") {
		t.Errorf("gateway saw unexpected prompt/transcript")
	}

	var buf bytes.Buffer
	if err := report.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "total: 1/2 passed") {
		t.Errorf("report output:\n%s", buf.String())
	}
}

func TestLoadScenariosFromDir(t *testing.T) {
	dir := t.TempDir()
	doc := `name: refund
tests:
  - events:
      - type: thread_started
        actor: customer
        data: {body: "I was charged twice"}
    tools:
      - name: lookup_invoice
        description: Find an invoice.
        args:
          type: object
          properties:
            invoice_id: {type: string}
        result:
          type: object
          properties:
            amount: {type: number}
        returns: {amount: 42}
    expected:
      name: lookup_invoice
`
	if err := os.WriteFile(filepath.Join(dir, "refund.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	scs, err := LoadScenarios(dir)
	if err != nil {
		t.Fatalf("LoadScenarios: %v", err)
	}
	if len(scs) != 1 || len(scs[0].Tests) != 1 {
		t.Fatalf("scenarios = %+v", scs)
	}
	test := scs[0].Tests[0]
	if test.Name != "test-1" {
		t.Errorf("default name = %q", test.Name)
	}
	reg, err := test.Registry()
	if err != nil {
		t.Fatal(err)
	}
	tool, ok := reg.Get("lookup_invoice")
	if !ok || reg.Len() != 1 {
		t.Fatalf("registry = %v", reg.Names())
	}
	if tool.Def().Result["type"] != "object" {
		t.Errorf("result schema = %v", tool.Def().Result)
	}
	out, err := tool.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["amount"] != 42 {
		t.Errorf("canned result = %#v", out)
	}
}

func TestParseScenarioRejectsBadFixtures(t *testing.T) {
	cases := map[string]string{
		"no name":      "tests: []",
		"no expected":  "name: x\ntests:\n  - name: t\n",
		"bad actor":    "name: x\ntests:\n  - expected: {name: finalize}\n    events:\n      - {type: thread_started, actor: robot}\n",
		"invalid yaml": "name: [",
		"unnamed tool": "name: x\ntests:\n  - expected: {name: finalize}\n    tools:\n      - {description: nameless}\n",
	}
	for name, doc := range cases {
		if _, err := ParseScenario([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDuplicateFixtureToolsRejected(t *testing.T) {
	def := tools.Def{Name: "dup", Args: tools.Schema{"type": "object"}}
	test := Test{Name: "t", Tools: []ToolFixture{{Def: def}, {Def: def}}}
	if _, err := test.Registry(); !errors.Is(err, tools.ErrDuplicateTool) {
		t.Fatalf("err = %v, want ErrDuplicateTool", err)
	}
}
