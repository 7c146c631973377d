package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
)

type testEngine struct {
	gates map[string]*gate
}

// gate lets a test decide when a parked task may continue.
type gate struct {
	exec   *executor.Executor
	task   executor.TaskID
	events []string
	open   bool
	polls  int
}

func (g *gate) release() {
	g.open = true
	g.exec.Wake(g.task)
}

var testMethods = map[string]MethodInfo{
	"echo":     {Name: "echo"},
	"wait":     {Name: "wait"},
	"fail":     {Name: "fail"},
	"boom":     {Name: "boom"},
	"silent":   {Name: "silent"},
	"sub":      {Name: "sub", Kind: MethodSubscribe, Notification: "sub_event", Unsubscribe: "unsub"},
	"unsub":    {Name: "unsub", Kind: MethodUnsubscribe},
	"otherSub": {Name: "otherSub", Kind: MethodSubscribe, Notification: "other_event", Unsubscribe: "otherUnsub"},
}

func (e *testEngine) Method(name string) (MethodInfo, bool) {
	info, ok := testMethods[name]
	return info, ok
}

func (e *testEngine) Serve(call *Call) (executor.Task, error) {
	switch call.Method() {
	case "echo":
		return executor.TaskFunc(func(*executor.Context) executor.Outcome {
			var params []any
			if err := call.DecodeParams(&params); err != nil {
				call.Fail(err)
				return executor.Done
			}
			call.Reply(params)
			return executor.Done
		}), nil
	case "wait", "sub", "otherSub":
		g := &gate{}
		e.gates[string(call.ID())] = g
		return executor.TaskFunc(func(cx *executor.Context) executor.Outcome {
			g.exec, g.task = cx.Executor(), cx.ID()
			g.polls++
			if call.Subscription() != "" {
				for _, ev := range g.events {
					call.Notify(ev)
				}
				g.events = nil
				return executor.Park
			}
			if !g.open {
				return executor.Park
			}
			call.Reply("released")
			return executor.Done
		}), nil
	case "fail":
		return nil, errors.InvalidInput(errors.PhaseEngine, "bad argument")
	case "boom":
		return executor.TaskFunc(func(*executor.Context) executor.Outcome {
			panic("engine bug")
		}), nil
	case "silent":
		return executor.TaskFunc(func(*executor.Context) executor.Outcome {
			return executor.Done
		}), nil
	}
	return nil, fmt.Errorf("unexpected method %s", call.Method())
}

func newTestMux(t *testing.T) (*Mux, *executor.Executor, *testEngine) {
	t.Helper()
	exec := executor.New()
	eng := &testEngine{gates: make(map[string]*gate)}
	n := 0
	m := New(exec, eng, WithSubscriptionIDs(func() string {
		n++
		return fmt.Sprintf("sub-%d", n)
	}))
	return m, exec, eng
}

func drain(t *testing.T, m *Mux) []map[string]any {
	t.Helper()
	var out []map[string]any
	for text := range m.DrainResponses() {
		var v map[string]any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			t.Fatalf("response %q is not JSON: %v", text, err)
		}
		out = append(out, v)
	}
	return out
}

func run(t *testing.T, exec *executor.Executor) {
	t.Helper()
	if _, err := exec.RunUntilIdle(0); err != nil {
		t.Fatalf("RunUntilIdle: %v", err)
	}
}

func errorCode(t *testing.T, resp map[string]any) int {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error response, got %v", resp)
	}
	return int(e["code"].(float64))
}

func TestMux_SingleShot(t *testing.T) {
	m, exec, _ := newTestMux(t)

	if err := m.Ingest(`{"jsonrpc":"2.0","id":"a","method":"echo","params":[1,"x"]}`); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := drain(t, m); len(got) != 0 {
		t.Fatalf("response before drive: %v", got)
	}
	run(t, exec)

	got := drain(t, m)
	if len(got) != 1 {
		t.Fatalf("responses = %v", got)
	}
	if got[0]["id"] != "a" || got[0]["jsonrpc"] != "2.0" {
		t.Fatalf("response = %v", got[0])
	}
	res := got[0]["result"].([]any)
	if len(res) != 2 || res[1] != "x" {
		t.Fatalf("result = %v", res)
	}
	if m.Open() != 0 {
		t.Fatalf("Open = %d", m.Open())
	}
	if got := drain(t, m); len(got) != 0 {
		t.Fatal("response emitted twice")
	}
}

func TestMux_IDEchoedVerbatim(t *testing.T) {
	m, exec, _ := newTestMux(t)
	m.Ingest(`{"id":12.50,"method":"echo"}`)
	run(t, exec)
	for text := range m.DrainResponses() {
		if !strings.Contains(text, `"id":12.50`) {
			t.Fatalf("id not echoed verbatim: %s", text)
		}
	}
}

func TestMux_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  int
		id    any
	}{
		{"not json", `{"id":1,`, CodeParseError, nil},
		{"wrong shape", `"hello"`, CodeInvalidRequest, nil},
		{"missing id", `{"method":"echo"}`, CodeInvalidRequest, nil},
		{"object id", `{"id":{},"method":"echo"}`, CodeInvalidRequest, nil},
		{"missing method", `{"id":1}`, CodeInvalidRequest, float64(1)},
		{"bad version", `{"jsonrpc":"1.0","id":1,"method":"echo"}`, CodeInvalidRequest, float64(1)},
		{"scalar params", `{"id":1,"method":"echo","params":3}`, CodeInvalidParams, float64(1)},
		{"unknown method", `{"id":"q","method":"nope"}`, CodeMethodNotFound, "q"},
		{"empty batch", `[]`, CodeInvalidRequest, nil},
		{"numeric method", `{"id":5,"method":42}`, CodeInvalidRequest, float64(5)},
		{"numeric version", `{"jsonrpc":2,"id":5,"method":"echo"}`, CodeInvalidRequest, float64(5)},
		{"wrong shape with object id", `{"id":{},"method":42}`, CodeInvalidRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMux(t)
			err := m.Ingest(tt.input)
			if errors.KindOf(err) != errors.KindMalformedRequest {
				t.Fatalf("Ingest error = %v", err)
			}
			got := drain(t, m)
			if len(got) != 1 {
				t.Fatalf("responses = %v", got)
			}
			if code := errorCode(t, got[0]); code != tt.code {
				t.Fatalf("code = %d, want %d", code, tt.code)
			}
			if got[0]["id"] != tt.id {
				t.Fatalf("id = %v, want %v", got[0]["id"], tt.id)
			}
		})
	}
}

func TestMux_MalformedDoesNotAffectOthers(t *testing.T) {
	m, exec, _ := newTestMux(t)
	m.Ingest(`{"id":1,"method":"wait"}`)
	m.Ingest(`garbage`)
	run(t, exec)
	drain(t, m)
	if m.Open() != 1 {
		t.Fatalf("Open = %d", m.Open())
	}
}

func TestMux_DuplicateOpenID(t *testing.T) {
	m, exec, eng := newTestMux(t)
	m.Ingest(`{"id":7,"method":"wait"}`)
	run(t, exec)

	m.Ingest(`{"id":7,"method":"echo"}`)
	got := drain(t, m)
	if len(got) != 1 || errorCode(t, got[0]) != CodeDuplicateID {
		t.Fatalf("duplicate = %v", got)
	}

	eng.gates["7"].release()
	run(t, exec)
	got = drain(t, m)
	if len(got) != 1 || got[0]["result"] != "released" {
		t.Fatalf("original call = %v", got)
	}

	// id is free again once answered
	m.Ingest(`{"id":7,"method":"echo"}`)
	run(t, exec)
	if got := drain(t, m); len(got) != 1 || got[0]["error"] != nil {
		t.Fatalf("reused id = %v", got)
	}
}

func TestMux_DuplicateSubscriptionID(t *testing.T) {
	m, exec, _ := newTestMux(t)
	m.Ingest(`{"id":9,"method":"sub"}`)
	run(t, exec)
	sub := drain(t, m)[0]["result"].(string)

	m.Ingest(`{"id":9,"method":"echo"}`)
	got := drain(t, m)
	if len(got) != 1 || errorCode(t, got[0]) != CodeDuplicateID {
		t.Fatalf("id of live subscription reused = %v", got)
	}

	m.Ingest(fmt.Sprintf(`{"id":10,"method":"unsub","params":[%q]}`, sub))
	drain(t, m)

	m.Ingest(`{"id":9,"method":"echo"}`)
	run(t, exec)
	if got := drain(t, m); len(got) != 1 || got[0]["error"] != nil {
		t.Fatalf("id after unsubscribe = %v", got)
	}
}

func TestMux_EngineErrors(t *testing.T) {
	tests := []struct {
		method string
		code   int
	}{
		{"fail", CodeInvalidParams},
		{"boom", CodeInternalError},
		{"silent", CodeEngineError},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m, exec, _ := newTestMux(t)
			if err := m.Ingest(fmt.Sprintf(`{"id":1,"method":%q}`, tt.method)); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			run(t, exec)
			got := drain(t, m)
			if len(got) != 1 || errorCode(t, got[0]) != tt.code {
				t.Fatalf("responses = %v", got)
			}
			if m.Open() != 0 {
				t.Fatal("failed call still open")
			}
		})
	}
}

func TestMux_Subscription(t *testing.T) {
	m, exec, eng := newTestMux(t)

	m.Ingest(`{"id":1,"method":"sub","params":[]}`)
	got := drain(t, m)
	if len(got) != 1 || got[0]["result"] != "sub-1" {
		t.Fatalf("subscribe response = %v", got)
	}
	run(t, exec)

	g := eng.gates["1"]
	g.events = []string{"e1", "e2"}
	g.release()
	run(t, exec)
	g.events = []string{"e3"}
	g.release()
	run(t, exec)

	got = drain(t, m)
	if len(got) != 3 {
		t.Fatalf("notifications = %v", got)
	}
	for i, want := range []string{"e1", "e2", "e3"} {
		if got[i]["method"] != "sub_event" {
			t.Fatalf("method = %v", got[i]["method"])
		}
		params := got[i]["params"].(map[string]any)
		if params["subscription"] != "sub-1" || params["result"] != want {
			t.Fatalf("event %d = %v", i, params)
		}
		if _, ok := got[i]["id"]; ok {
			t.Fatal("notification must not carry the request id")
		}
	}

	// wrong pairing and unknown ids answer false
	m.Ingest(`{"id":2,"method":"unsub","params":["nope"]}`)
	m.Ingest(`{"id":3,"method":"unsub","params":[]}`)
	got = drain(t, m)
	if got[0]["result"] != false || errorCode(t, got[1]) != CodeInvalidParams {
		t.Fatalf("bad unsubscribe = %v", got)
	}

	m.Ingest(`{"id":4,"method":"unsub","params":["sub-1"]}`)
	got = drain(t, m)
	if len(got) != 1 || got[0]["result"] != true {
		t.Fatalf("unsubscribe = %v", got)
	}
	if m.Subscriptions() != 0 {
		t.Fatalf("Subscriptions = %d", m.Subscriptions())
	}
	if st, ok := exec.State(g.task); ok && st != executor.StateCancelled {
		t.Fatalf("subscription task state = %v", st)
	}

	g.events = []string{"late"}
	g.release()
	run(t, exec)
	if got := drain(t, m); len(got) != 0 {
		t.Fatalf("events after unsubscribe: %v", got)
	}
}

func TestMux_UnsubscribePairing(t *testing.T) {
	m, exec, _ := newTestMux(t)
	m.Ingest(`{"id":1,"method":"otherSub"}`)
	run(t, exec)
	drain(t, m)

	m.Ingest(`{"id":2,"method":"unsub","params":["sub-1"]}`)
	if got := drain(t, m); got[0]["result"] != false {
		t.Fatalf("cross-method unsubscribe = %v", got)
	}
	if m.Subscriptions() != 1 {
		t.Fatal("subscription removed by the wrong unsubscribe method")
	}
}

func TestMux_EndSession(t *testing.T) {
	m, exec, _ := newTestMux(t)
	m.Ingest(`{"id":1,"method":"wait"}`)
	m.Ingest(`{"id":2,"method":"sub"}`)
	m.Ingest(`{"id":3,"method":"wait"}`)
	run(t, exec)
	drain(t, m)

	m.EndSession()
	got := drain(t, m)
	if len(got) != 2 {
		t.Fatalf("responses = %v", got)
	}
	for i, want := range []float64{1, 3} {
		if got[i]["id"] != want || errorCode(t, got[i]) != CodeSessionEnded {
			t.Fatalf("response %d = %v", i, got[i])
		}
	}
	if m.Open() != 0 || m.Subscriptions() != 0 || exec.Len() != 0 {
		t.Fatalf("open=%d subs=%d tasks=%d", m.Open(), m.Subscriptions(), exec.Len())
	}

	if err := m.Ingest(`{"id":9,"method":"echo"}`); err == nil {
		t.Fatal("Ingest after EndSession should fail")
	}
	if got := drain(t, m); errorCode(t, got[0]) != CodeSessionEnded {
		t.Fatalf("late request = %v", got)
	}
	m.EndSession()
}

func TestMux_Batch(t *testing.T) {
	m, exec, _ := newTestMux(t)
	err := m.Ingest(`[{"id":1,"method":"echo"},{"id":2},{"id":3,"method":"echo"}]`)
	if errors.KindOf(err) != errors.KindMalformedRequest {
		t.Fatalf("batch error = %v", err)
	}
	run(t, exec)
	got := drain(t, m)
	if len(got) != 3 {
		t.Fatalf("responses = %v", got)
	}
	ids := map[float64]bool{}
	for _, r := range got {
		ids[r["id"].(float64)] = true
	}
	if !ids[1] || !ids[2] || !ids[3] {
		t.Fatalf("ids = %v", ids)
	}
}

func TestMux_DrainStopsEarly(t *testing.T) {
	m, exec, _ := newTestMux(t)
	for i := 0; i < 3; i++ {
		m.Ingest(fmt.Sprintf(`{"id":%d,"method":"echo"}`, i))
	}
	run(t, exec)
	for range m.DrainResponses() {
		break
	}
	if m.Pending() != 2 {
		t.Fatalf("Pending = %d", m.Pending())
	}
	n := 0
	for range m.DrainResponses() {
		n++
	}
	if n != 2 {
		t.Fatalf("second drain = %d", n)
	}
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{errors.InvalidInput(errors.PhaseEngine, "x"), CodeInvalidParams},
		{errors.Engine("m", "boom", nil), CodeEngineError},
		{errors.Closed(errors.PhaseEngine, "session"), CodeSessionEnded},
		{errors.New(errors.PhaseEngine, errors.KindUnsupported).Build(), CodeMethodNotFound},
		{fmt.Errorf("plain"), CodeEngineError},
		{&ErrorObject{Code: 5, Message: "custom"}, 5},
	}
	for _, tt := range tests {
		if got := ErrorFrom(tt.err); got.Code != tt.code {
			t.Errorf("ErrorFrom(%v).Code = %d, want %d", tt.err, got.Code, tt.code)
		}
	}
	if msg := ErrorFrom(errors.Engine("m", "boom", fmt.Errorf("io"))).Message; msg != "boom: io" {
		t.Errorf("message = %q", msg)
	}
}
